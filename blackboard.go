package casedb

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cdtdelta/casedb/internal/database"
)

// Blackboard persists artifacts and their attributes: the store of analysis
// results extracted from evidence.
type Blackboard struct {
	db      *database.DB
	types   *AttributeTypeRegistry
	content *ContentManager
	log     *zap.SugaredLogger
}

// Types returns the attribute type registry for this case.
func (b *Blackboard) Types() *AttributeTypeRegistry { return b.types }

// NewArtifact creates and persists an artifact of the given type attached to
// a piece of content.
func (b *Blackboard) NewArtifact(artifactTypeID int, content *Content) (*Artifact, error) {
	if content == nil {
		return nil, validationErrorf("content is required to create an artifact")
	}

	b.db.AcquireWriteLock()
	defer b.db.ReleaseWriteLock()

	id, err := b.db.InsertReturningID(b.db.Conn(),
		"INSERT INTO blackboard_artifacts (artifact_type_id, content_id, data_source_id)"+
			" VALUES ("+placeholders(b.db, 3)+")", "artifact_id",
		artifactTypeID, content.ID, content.DataSourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("creating artifact of type %d: %w", artifactTypeID, err)
	}

	return &Artifact{
		ID:           id,
		TypeID:       artifactTypeID,
		ContentID:    content.ID,
		DataSourceID: content.DataSourceID,
		blackboard:   b,
	}, nil
}

const attributeInsert = "INSERT INTO blackboard_attributes" +
	" (artifact_id, attribute_type_id, source, value_type," +
	" value_int32, value_int64, value_double, value_text, value_byte)"

// AddAttribute persists a single attribute onto an artifact, assigning its
// owner. Prefer AddAttributes for more than a handful: the bulk form costs
// one round trip instead of N.
func (b *Blackboard) AddAttribute(artifact *Artifact, attr *Attribute) error {
	return b.AddAttributes(artifact, []*Attribute{attr})
}

// AddAttributes persists a batch of attributes onto an artifact inside a
// single transaction with one prepared statement.
func (b *Blackboard) AddAttributes(artifact *Artifact, attrs []*Attribute) error {
	if artifact == nil {
		return validationErrorf("an artifact is required to add attributes")
	}
	if len(attrs) == 0 {
		return nil
	}

	b.db.AcquireWriteLock()
	defer b.db.ReleaseWriteLock()

	tx, err := b.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("beginning attribute insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(attributeInsert + " VALUES (" + placeholders(b.db, 9) + ")")
	if err != nil {
		return fmt.Errorf("preparing attribute insert: %w", err)
	}
	defer stmt.Close()

	for i, attr := range attrs {
		if attr == nil {
			return validationErrorf("attribute %d is nil", i)
		}
		v := attr.Value
		_, err := stmt.Exec(
			artifact.ID, attr.Type.TypeID, attr.sourceString(), int(v.Kind),
			v.Int32, v.Int64, v.Double, v.Text, v.Bytes,
		)
		if err != nil {
			return fmt.Errorf("inserting attribute %s on artifact %d: %w",
				attr.Type.TypeName, artifact.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing attribute insert: %w", err)
	}

	for _, attr := range attrs {
		attr.ArtifactID = artifact.ID
		artifact.attrs = append(artifact.attrs, attr)
	}
	return nil
}

// Attributes loads the persisted attributes of an artifact in insertion
// order.
func (b *Blackboard) Attributes(artifact *Artifact) ([]*Attribute, error) {
	if artifact == nil {
		return nil, validationErrorf("an artifact is required to load attributes")
	}

	b.db.AcquireReadLock()
	defer b.db.ReleaseReadLock()
	return b.attributes(b.db.Conn(), artifact)
}

func (b *Blackboard) attributes(q database.Queryer, artifact *Artifact) ([]*Attribute, error) {
	rows, err := q.Query(
		"SELECT attribute_type_id, source, value_type,"+
			" value_int32, value_int64, value_double, value_text, value_byte"+
			" FROM blackboard_attributes WHERE artifact_id = "+b.db.Placeholder(1)+
			" ORDER BY id",
		artifact.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying attributes of artifact %d: %w", artifact.ID, err)
	}
	defer rows.Close()

	var attrs []*Attribute
	for rows.Next() {
		var (
			typeID int
			source sql.NullString
			v      AttributeValue
			text   sql.NullString
		)
		err := rows.Scan(&typeID, &source, &v.Kind, &v.Int32, &v.Int64, &v.Double, &text, &v.Bytes)
		if err != nil {
			return nil, fmt.Errorf("scanning attribute row: %w", err)
		}
		v.Text = text.String

		attrType, err := b.types.TypeByID(typeID)
		if err != nil {
			return nil, err
		}

		attr := &Attribute{ArtifactID: artifact.ID, Type: attrType, Value: v}
		if source.String != "" {
			attr.Sources = splitSources(source.String)
		}
		attrs = append(attrs, attr)
	}
	return attrs, rows.Err()
}

// AppendAttributeSource adds a provenance tag to a persisted attribute. This
// is the only mutation allowed after persistence.
func (b *Blackboard) AppendAttributeSource(attr *Attribute, source string) error {
	if attr == nil || attr.ArtifactID == 0 {
		return validationErrorf("a persisted attribute is required to append a source")
	}
	if !attr.addSource(source) {
		return nil
	}

	b.db.AcquireWriteLock()
	defer b.db.ReleaseWriteLock()

	// An artifact may carry several attributes of the same type; the value
	// column keeps the update from touching its siblings.
	valueCol, value := attr.Value.valueColumn()
	_, err := b.db.Conn().Exec(
		"UPDATE blackboard_attributes SET source = "+b.db.Placeholder(1)+
			" WHERE artifact_id = "+b.db.Placeholder(2)+
			" AND attribute_type_id = "+b.db.Placeholder(3)+
			" AND "+valueCol+" = "+b.db.Placeholder(4),
		attr.sourceString(), attr.ArtifactID, attr.Type.TypeID, value,
	)
	if err != nil {
		return fmt.Errorf("appending source to attribute %s of artifact %d: %w",
			attr.Type.TypeName, attr.ArtifactID, err)
	}
	return nil
}

// DisplayString renders an attribute's value as text. Datetime values are
// formatted in the owning artifact's data source time zone; resolution
// failures fall back to UTC rather than erroring. This is the only place
// value formatting depends on graph traversal.
func (b *Blackboard) DisplayString(artifact *Artifact, attr *Attribute) string {
	if attr == nil {
		return ""
	}
	var loc *time.Location
	if attr.Value.Kind == KindDatetime && artifact != nil {
		b.db.AcquireReadLock()
		loc = b.content.timeZoneForDataSource(b.db.Conn(), artifact.DataSourceID)
		b.db.ReleaseReadLock()
	}
	return attr.displayString(loc)
}

func splitSources(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
