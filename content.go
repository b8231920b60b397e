package casedb

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cdtdelta/casedb/internal/database"
)

// ContentKind tags the variant of a content row. The original type hierarchy
// (file, directory, volume system, ...) is flattened into a tagged variant
// with shared fields on Content; operations switch over the tag.
type ContentKind int

const (
	ContentFile ContentKind = iota
	ContentDirectory
	ContentVolumeSystem
	ContentFileSystem
	ContentImage
)

func (k ContentKind) String() string {
	switch k {
	case ContentFile:
		return "File"
	case ContentDirectory:
		return "Directory"
	case ContentVolumeSystem:
		return "VolumeSystem"
	case ContentFileSystem:
		return "FileSystem"
	case ContentImage:
		return "Image"
	default:
		return fmt.Sprintf("ContentKind(%d)", int(k))
	}
}

// Content is a piece of filesystem content recovered from a data source.
// Artifacts anchor to content rows.
type Content struct {
	ID           int64
	DataSourceID int64
	Kind         ContentKind
	Name         string
	Path         string
	Size         int64
}

// DataSource is one acquired evidence source (disk image, logical file set)
// attached to a host. Its time zone drives datetime attribute display.
type DataSource struct {
	ID       int64
	HostID   int64
	DeviceID string
	Name     string
	TimeZone string // IANA name, e.g. "America/New_York"
}

// ContentManager persists data sources and content rows.
type ContentManager struct {
	db  *database.DB
	log *zap.SugaredLogger
}

// AddDataSource records a new data source for a host. The time zone is an
// IANA name and may be empty if unknown.
func (m *ContentManager) AddDataSource(host *Host, deviceID, name, timeZone string) (*DataSource, error) {
	if host == nil {
		return nil, validationErrorf("a host is required to add a data source")
	}
	if timeZone != "" {
		if _, err := time.LoadLocation(timeZone); err != nil {
			return nil, validationErrorf("unknown time zone %q", timeZone)
		}
	}

	m.db.AcquireWriteLock()
	defer m.db.ReleaseWriteLock()

	id, err := m.db.InsertReturningID(m.db.Conn(),
		"INSERT INTO tsk_data_sources (host_id, device_id, name, time_zone)"+
			" VALUES ("+placeholders(m.db, 4)+")", "id",
		host.ID, deviceID, name, timeZone,
	)
	if err != nil {
		return nil, fmt.Errorf("adding data source %s: %w", name, err)
	}
	return &DataSource{ID: id, HostID: host.ID, DeviceID: deviceID, Name: name, TimeZone: timeZone}, nil
}

// DataSourceByID returns the data source with the given id. Must exist.
func (m *ContentManager) DataSourceByID(id int64) (*DataSource, error) {
	m.db.AcquireReadLock()
	defer m.db.ReleaseReadLock()
	return m.dataSourceByID(m.db.Conn(), id)
}

func (m *ContentManager) dataSourceByID(q database.Queryer, id int64) (*DataSource, error) {
	ds := &DataSource{}
	var deviceID, name, tz sql.NullString
	var hostID sql.NullInt64
	err := q.QueryRow(
		"SELECT id, host_id, device_id, name, time_zone FROM tsk_data_sources WHERE id = "+m.db.Placeholder(1), id,
	).Scan(&ds.ID, &hostID, &deviceID, &name, &tz)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("data source id %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting data source %d: %w", id, err)
	}
	ds.HostID = hostID.Int64
	ds.DeviceID = deviceID.String
	ds.Name = name.String
	ds.TimeZone = tz.String
	return ds, nil
}

// AddContent records a content row under a data source.
func (m *ContentManager) AddContent(ds *DataSource, kind ContentKind, name, path string, size int64) (*Content, error) {
	if ds == nil {
		return nil, validationErrorf("a data source is required to add content")
	}

	m.db.AcquireWriteLock()
	defer m.db.ReleaseWriteLock()

	id, err := m.db.InsertReturningID(m.db.Conn(),
		"INSERT INTO tsk_content (data_source_id, kind, name, path, size)"+
			" VALUES ("+placeholders(m.db, 5)+")", "id",
		ds.ID, int(kind), name, path, size,
	)
	if err != nil {
		return nil, fmt.Errorf("adding content %s: %w", name, err)
	}
	return &Content{ID: id, DataSourceID: ds.ID, Kind: kind, Name: name, Path: path, Size: size}, nil
}

// timeZoneForDataSource resolves a data source's location for datetime
// display, falling back to UTC when unset or unresolvable.
func (m *ContentManager) timeZoneForDataSource(q database.Queryer, dataSourceID int64) *time.Location {
	ds, err := m.dataSourceByID(q, dataSourceID)
	if err != nil || ds.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(ds.TimeZone)
	if err != nil {
		m.log.Warnw("unresolvable data source time zone, using UTC",
			"data_source_id", dataSourceID, "time_zone", ds.TimeZone)
		return time.UTC
	}
	return loc
}
