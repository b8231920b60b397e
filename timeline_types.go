package casedb

import "sync"

// TimelineLevel is the depth of a node in the event type tree.
type TimelineLevel int

const (
	LevelRoot TimelineLevel = iota
	LevelCategory
	LevelEvent
)

func (l TimelineLevel) String() string {
	switch l {
	case LevelRoot:
		return "ROOT"
	case LevelCategory:
		return "CATEGORY"
	case LevelEvent:
		return "EVENT"
	}
	return "UNKNOWN"
}

// descExtractor pulls one description string out of an artifact. Extractors
// never fail: a missing attribute yields an empty string.
type descExtractor func(a *Artifact) string

// TimelineEventType is a node in the fixed three-level classification tree
// used to turn artifacts into timeline entries. ROOT has category children,
// categories have event leaves, and each leaf binds an artifact type to the
// attribute holding its timestamp plus up to three description extractors
// (full, medium, short).
//
// The tree is built once and never mutated; it is safe for concurrent use.
type TimelineEventType struct {
	ID          int64
	DisplayName string
	Level       TimelineLevel

	// Leaf bindings. ArtifactTypeID is zero for the file-system leaves,
	// whose timestamps come from file metadata rather than an artifact.
	ArtifactTypeID  int
	TimestampAttrID int

	parent    *TimelineEventType
	children  []*TimelineEventType
	fullDesc  descExtractor
	medDesc   descExtractor
	shortDesc descExtractor
}

// TimelineDescription carries the three levels of detail for one event.
type TimelineDescription struct {
	Full   string
	Medium string
	Short  string
}

// Children returns the direct child types, ordered by id.
func (t *TimelineEventType) Children() []*TimelineEventType {
	out := make([]*TimelineEventType, len(t.children))
	copy(out, t.children)
	return out
}

// Child returns the direct child with the given display name, or nil.
func (t *TimelineEventType) Child(displayName string) *TimelineEventType {
	for _, c := range t.children {
		if c.DisplayName == displayName {
			return c
		}
	}
	return nil
}

// Parent returns the parent node, or nil for the root.
func (t *TimelineEventType) Parent() *TimelineEventType {
	return t.parent
}

// Category walks up to the nearest CATEGORY-level ancestor. Called on a
// category it returns the receiver; called on the root it returns the root.
func (t *TimelineEventType) Category() *TimelineEventType {
	n := t
	for n.Level == LevelEvent {
		n = n.parent
	}
	return n
}

// Timestamp extracts the event timestamp from an artifact bound to this leaf.
// It reports false when the artifact has no timestamp attribute.
func (t *TimelineEventType) Timestamp(a *Artifact) (int64, bool) {
	if t.TimestampAttrID == 0 || a == nil {
		return 0, false
	}
	attr := a.Attribute(t.TimestampAttrID)
	if attr == nil {
		return 0, false
	}
	return attr.Value.Int64, true
}

// Description builds the three-level description for an artifact. Missing
// attributes degrade to empty strings; they never fail the event.
func (t *TimelineEventType) Description(a *Artifact) TimelineDescription {
	d := TimelineDescription{}
	if t.fullDesc != nil {
		d.Full = t.fullDesc(a)
	}
	if t.medDesc != nil {
		d.Medium = t.medDesc(a)
	}
	if t.shortDesc != nil {
		d.Short = t.shortDesc(a)
	}
	return d
}

// attrText returns an extractor for the text of one attribute type.
func attrText(typeID int) descExtractor {
	return func(a *Artifact) string {
		if a == nil {
			return ""
		}
		attr := a.Attribute(typeID)
		if attr == nil {
			return ""
		}
		return attr.Value.Text
	}
}

var (
	timelineOnce sync.Once
	timelineRoot *TimelineEventType
	timelineByID map[int64]*TimelineEventType
)

// RootEventType returns the root of the event type tree, building it on
// first use.
func RootEventType() *TimelineEventType {
	timelineOnce.Do(buildTimelineTree)
	return timelineRoot
}

// EventTypeByID looks a node up anywhere in the tree, or returns nil.
func EventTypeByID(id int64) *TimelineEventType {
	timelineOnce.Do(buildTimelineTree)
	return timelineByID[id]
}

func buildTimelineTree() {
	root := &TimelineEventType{ID: 0, DisplayName: "Event Types", Level: LevelRoot}

	fileSystem := category(1, "File System", root)
	webActivity := category(2, "Web Activity", root)
	miscTypes := category(3, "Misc Types", root)

	// File times come from file metadata, so these leaves carry no
	// artifact binding. The description is the file path in all cases.
	fileLeaf := func(id int64, name string) *TimelineEventType {
		t := leaf(id, name, fileSystem, 0, 0)
		t.fullDesc = attrText(AttrPath)
		t.medDesc = attrText(AttrPath)
		t.shortDesc = attrText(AttrName)
		return t
	}
	fileLeaf(4, "File Modified")
	fileLeaf(5, "File Accessed")
	fileLeaf(6, "File Created")
	fileLeaf(7, "File Changed")

	webHistory := leaf(11, "Web History", webActivity, ArtifactWebHistory, AttrDatetimeAccessed)
	webHistory.fullDesc = attrText(AttrURL)
	webHistory.medDesc = attrText(AttrDomain)
	webHistory.shortDesc = attrText(AttrDomain)

	installed := leaf(13, "Program Installed", miscTypes, ArtifactInstalledProg, AttrDatetime)
	installed.fullDesc = attrText(AttrProgName)
	installed.medDesc = attrText(AttrProgName)

	recentDocs := leaf(18, "Recent Documents", miscTypes, ArtifactRecentObject, AttrDatetime)
	recentDocs.fullDesc = attrText(AttrPath)
	recentDocs.medDesc = attrText(AttrPath)
	recentDocs.shortDesc = attrText(AttrName)

	account := leaf(22, "Account Created", miscTypes, ArtifactOsAccount, AttrDatetimeCreated)
	account.fullDesc = attrText(AttrUserName)
	account.medDesc = attrText(AttrUserID)
	account.shortDesc = attrText(AttrUserName)

	byID := make(map[int64]*TimelineEventType)
	var index func(t *TimelineEventType)
	index = func(t *TimelineEventType) {
		byID[t.ID] = t
		for _, c := range t.children {
			index(c)
		}
	}
	index(root)

	timelineRoot = root
	timelineByID = byID
}

func category(id int64, name string, root *TimelineEventType) *TimelineEventType {
	t := &TimelineEventType{ID: id, DisplayName: name, Level: LevelCategory, parent: root}
	root.children = append(root.children, t)
	return t
}

func leaf(id int64, name string, cat *TimelineEventType, artifactTypeID, tsAttrID int) *TimelineEventType {
	t := &TimelineEventType{
		ID:              id,
		DisplayName:     name,
		Level:           LevelEvent,
		ArtifactTypeID:  artifactTypeID,
		TimestampAttrID: tsAttrID,
		parent:          cat,
	}
	cat.children = append(cat.children, t)
	return t
}
