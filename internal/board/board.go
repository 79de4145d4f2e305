// Package board defines the shared whiteboard data model: nodes, edges and
// the viewport that together make up one collaborative canvas.
package board

// Node kinds. Image nodes carry a URL; text nodes carry their label inline.
const (
	KindText  = "text"
	KindImage = "image"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Node is a single card on the canvas. IDs are client-generated; the engine
// never re-derives them and resolves duplicates by last write wins.
type Node struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Position Position `json:"position"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"imageUrl,omitempty"`
	Size     *Size    `json:"size,omitempty"`
}

// Edge connects two node anchors. An edge may reference a node id that no
// longer exists (a dangling edge); nothing prunes those.
type Edge struct {
	ID           string `json:"id"`
	SourceNodeID string `json:"sourceNodeId"`
	SourceAnchor string `json:"sourceAnchor"`
	TargetNodeID string `json:"targetNodeId"`
	TargetAnchor string `json:"targetAnchor"`
}

// ConnectionKey identifies an edge by its endpoint tuple, independent of its
// id. Connecting the same tuple twice must not produce a second edge.
func (e Edge) ConnectionKey() string {
	return e.SourceNodeID + "|" + e.SourceAnchor + "|" + e.TargetNodeID + "|" + e.TargetAnchor
}

type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// DefaultViewport is what a never-saved board starts with.
func DefaultViewport() Viewport {
	return Viewport{X: 0, Y: 0, Zoom: 1}
}

// Board is the full persisted state of one room.
type Board struct {
	RoomID   string   `json:"roomId"`
	Nodes    []Node   `json:"nodes"`
	Edges    []Edge   `json:"edges"`
	Viewport Viewport `json:"viewport"`
}

// Clone returns a copy of the node. Node has no reference fields besides the
// optional size, so this is a full copy.
func (n Node) Clone() Node {
	out := n
	if n.Size != nil {
		size := *n.Size
		out.Size = &size
	}
	return out
}
