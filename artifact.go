package casedb

// Artifact is a single blackboard posting: a typed observation extracted
// from a piece of content. Attributes hang off it as name/value pairs.
//
// Artifacts are created through Blackboard.NewArtifact and keep a reference
// back to their blackboard so attribute operations know where to persist.
type Artifact struct {
	ID           int64
	TypeID       int
	ContentID    int64
	DataSourceID int64

	blackboard *Blackboard
	attrs      []*Attribute
}

// Attributes returns the attributes attached in this session. It does not
// hit the database; use Blackboard.Attributes for a full reload.
func (a *Artifact) Attributes() []*Attribute {
	out := make([]*Attribute, len(a.attrs))
	copy(out, a.attrs)
	return out
}

// Attribute returns the first attached attribute of the given type, or nil.
func (a *Artifact) Attribute(typeID int) *Attribute {
	for _, attr := range a.attrs {
		if attr.Type.TypeID == typeID {
			return attr
		}
	}
	return nil
}
