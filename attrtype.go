package casedb

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/cdtdelta/casedb/internal/database"
)

// ValueKind is the storage kind of an attribute value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindInteger
	KindLong
	KindDouble
	KindBytes
	KindDatetime // int64 seconds since the Unix epoch
	KindJSON     // stored as text
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindInteger:
		return "Integer"
	case KindLong:
		return "Long"
	case KindDouble:
		return "Double"
	case KindBytes:
		return "Byte"
	case KindDatetime:
		return "DateTime"
	case KindJSON:
		return "JSON"
	default:
		return fmt.Sprintf("ValueKind(%d)", int(k))
	}
}

// AttributeType identifies and types a blackboard attribute. Immutable once
// registered; typeID and typeName are each unique within a case.
type AttributeType struct {
	TypeID      int
	TypeName    string
	DisplayName string
	ValueKind   ValueKind
}

// Built-in artifact type ids referenced by identity and timeline logic.
const (
	ArtifactGenInfo       = 1
	ArtifactWebHistory    = 4
	ArtifactRecentObject  = 6
	ArtifactInstalledProg = 8
	ArtifactOsInfo        = 19
	ArtifactOsAccount     = 20
)

// Built-in attribute type ids.
const (
	AttrURL              = 1
	AttrDatetime         = 2
	AttrName             = 3
	AttrProgName         = 4
	AttrPath             = 8
	AttrUserName         = 14
	AttrDomain           = 15
	AttrText             = 26
	AttrDatetimeAccessed = 33
	AttrComment          = 66
	AttrDatetimeCreated  = 68
	AttrUserID           = 72
	AttrDescription      = 73
)

// Built-in attribute types. This is the subset the identity/timeline logic
// consumes; the ids are fixed and never reassigned.
var builtinAttributeTypes = []AttributeType{
	{AttrURL, "TSK_URL", "URL", KindString},
	{AttrDatetime, "TSK_DATETIME", "Date/Time", KindDatetime},
	{AttrName, "TSK_NAME", "Name", KindString},
	{AttrProgName, "TSK_PROG_NAME", "Program Name", KindString},
	{AttrPath, "TSK_PATH", "Path", KindString},
	{AttrUserName, "TSK_USER_NAME", "Username", KindString},
	{AttrDomain, "TSK_DOMAIN", "Domain", KindString},
	{AttrText, "TSK_TEXT", "Text", KindString},
	{AttrDatetimeAccessed, "TSK_DATETIME_ACCESSED", "Date Accessed", KindDatetime},
	{AttrComment, "TSK_COMMENT", "Comment", KindString},
	{AttrDatetimeCreated, "TSK_DATETIME_CREATED", "Created Time", KindDatetime},
	{AttrUserID, "TSK_USER_ID", "User ID", KindString},
	{AttrDescription, "TSK_DESCRIPTION", "Description", KindString},
}

// Custom attribute types get ids starting here, clear of the built-in range.
const customTypeIDBase = 10001

// AttributeTypeRegistry maps type ids and names to attribute types. Built-ins
// are seeded idempotently at case creation/open; custom types are persisted
// as they are registered. Lookups hit the in-memory tables; the registry and
// the blackboard_attribute_types table are kept in sync under the case lock.
type AttributeTypeRegistry struct {
	db *database.DB

	mu     sync.RWMutex
	byID   map[int]AttributeType
	byName map[string]AttributeType
	nextID int
}

func newAttributeTypeRegistry(db *database.DB) *AttributeTypeRegistry {
	return &AttributeTypeRegistry{
		db:     db,
		byID:   make(map[int]AttributeType),
		byName: make(map[string]AttributeType),
		nextID: customTypeIDBase,
	}
}

// load seeds the built-in types into the database if missing and reads every
// registered type (built-in and custom) into memory. Called at case open.
func (r *AttributeTypeRegistry) load() error {
	r.db.AcquireWriteLock()
	defer r.db.ReleaseWriteLock()

	conn := r.db.Conn()
	for _, t := range builtinAttributeTypes {
		var count int
		err := conn.QueryRow(
			"SELECT COUNT(*) FROM blackboard_attribute_types WHERE attribute_type_id = "+r.db.Placeholder(1),
			t.TypeID,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("checking built-in type %s: %w", t.TypeName, err)
		}
		if count > 0 {
			continue
		}
		_, err = conn.Exec(
			"INSERT INTO blackboard_attribute_types (attribute_type_id, type_name, display_name, value_type)"+
				" VALUES ("+placeholders(r.db, 4)+")",
			t.TypeID, t.TypeName, t.DisplayName, int(t.ValueKind),
		)
		if err != nil {
			return fmt.Errorf("seeding built-in type %s: %w", t.TypeName, err)
		}
	}

	rows, err := conn.Query(
		"SELECT attribute_type_id, type_name, display_name, value_type FROM blackboard_attribute_types")
	if err != nil {
		return fmt.Errorf("loading attribute types: %w", err)
	}
	defer rows.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	for rows.Next() {
		var t AttributeType
		var display sql.NullString
		if err := rows.Scan(&t.TypeID, &t.TypeName, &display, &t.ValueKind); err != nil {
			return fmt.Errorf("scanning attribute type: %w", err)
		}
		t.DisplayName = display.String
		r.byID[t.TypeID] = t
		r.byName[t.TypeName] = t
		if t.TypeID >= r.nextID {
			r.nextID = t.TypeID + 1
		}
	}
	return rows.Err()
}

// RegisterType adds a custom attribute type with a fresh id and persists it.
// Returns ErrDuplicateType if the name is already registered.
func (r *AttributeTypeRegistry) RegisterType(name, displayName string, kind ValueKind) (AttributeType, error) {
	if name == "" {
		return AttributeType{}, validationErrorf("an attribute type name is required")
	}

	r.db.AcquireWriteLock()
	defer r.db.ReleaseWriteLock()
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return AttributeType{}, fmt.Errorf("attribute type %s: %w", name, ErrDuplicateType)
	}

	t := AttributeType{TypeID: r.nextID, TypeName: name, DisplayName: displayName, ValueKind: kind}
	_, err := r.db.Conn().Exec(
		"INSERT INTO blackboard_attribute_types (attribute_type_id, type_name, display_name, value_type)"+
			" VALUES ("+placeholders(r.db, 4)+")",
		t.TypeID, t.TypeName, t.DisplayName, int(t.ValueKind),
	)
	if err != nil {
		if r.db.IsUniqueViolation(err) {
			return AttributeType{}, fmt.Errorf("attribute type %s: %w", name, ErrDuplicateType)
		}
		return AttributeType{}, fmt.Errorf("registering attribute type %s: %w", name, err)
	}

	r.byID[t.TypeID] = t
	r.byName[t.TypeName] = t
	r.nextID++
	return t, nil
}

// TypeByID looks up an attribute type by numeric id.
func (r *AttributeTypeRegistry) TypeByID(id int) (AttributeType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return AttributeType{}, fmt.Errorf("attribute type id %d: %w", id, ErrNotFound)
	}
	return t, nil
}

// TypeByName looks up an attribute type by name.
func (r *AttributeTypeRegistry) TypeByName(name string) (AttributeType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	if !ok {
		return AttributeType{}, fmt.Errorf("attribute type %s: %w", name, ErrNotFound)
	}
	return t, nil
}
