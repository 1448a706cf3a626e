package broker

// Routing keys, shared between the consumed input queue and the task
// exchange the worker republishes to for fan-out.
const (
	RoutingIngest = "ingest_inode"
	RoutingEmbed  = "embed_inode"
	RoutingIndex  = "index_inode"
	RoutingMove   = "move_inode"
	RoutingShare  = "share_inode"
	RoutingDelete = "delete_inode"
)

// AfterEvent is the payload for every routing key except delete_inode: a
// reference to the current row, looked up fresh inside the handler.
type AfterEvent struct {
	After struct {
		ID int64 `json:"id"`
	} `json:"after"`
}

// BeforeEvent is delete_inode's payload: the row's fields as they stood
// immediately before deletion, since a post-delete lookup is impossible.
type BeforeEvent struct {
	Before struct {
		ID      int64  `json:"id"`
		OwnerID string `json:"owner_id"`
		Path    string `json:"path"`
		Type    string `json:"type"`
	} `json:"before"`
}

// Notification is the payload published to the user topic exchange on
// terminal state (ready or errored).
type Notification struct {
	ID   int64  `json:"id"`
	Task string `json:"task"`
}
