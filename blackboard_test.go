package casedb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContent(t *testing.T, c *Case, timeZone string) *Content {
	t.Helper()
	host := newHost(t, c, "WORKSTATION1")
	ds, err := c.Content().AddDataSource(host, "dev-001", "image1.E01", timeZone)
	require.NoError(t, err)
	content, err := c.Content().AddContent(ds, ContentFile, "index.dat", "/Users/jdoe/index.dat", 4096)
	require.NoError(t, err)
	return content
}

func TestArtifactAttributeRoundTrip(t *testing.T) {
	c := newTestCase(t)
	bb := c.Blackboard()
	content := newTestContent(t, c, "UTC")

	artifact, err := bb.NewArtifact(ArtifactWebHistory, content)
	require.NoError(t, err)
	require.NotZero(t, artifact.ID)
	assert.Equal(t, content.ID, artifact.ContentID)

	urlType, err := bb.Types().TypeByID(AttrURL)
	require.NoError(t, err)
	accessedType, err := bb.Types().TypeByID(AttrDatetimeAccessed)
	require.NoError(t, err)

	urlAttr, err := NewAttribute(urlType, "recent-activity", TextValue("https://example.org/login"))
	require.NoError(t, err)
	timeAttr, err := NewAttribute(accessedType, "recent-activity", DatetimeValue(1700000000))
	require.NoError(t, err)

	require.NoError(t, bb.AddAttributes(artifact, []*Attribute{urlAttr, timeAttr}))
	assert.Equal(t, artifact.ID, urlAttr.ArtifactID)

	loaded, err := bb.Attributes(artifact)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "TSK_URL", loaded[0].Type.TypeName)
	assert.Equal(t, "https://example.org/login", loaded[0].Value.Text)
	assert.Equal(t, []string{"recent-activity"}, loaded[0].Sources)
	assert.Equal(t, int64(1700000000), loaded[1].Value.Int64)
}

func TestNewArtifactRequiresContent(t *testing.T) {
	c := newTestCase(t)

	_, err := c.Blackboard().NewArtifact(ArtifactWebHistory, nil)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestAppendAttributeSource(t *testing.T) {
	c := newTestCase(t)
	bb := c.Blackboard()
	content := newTestContent(t, c, "UTC")

	artifact, err := bb.NewArtifact(ArtifactInstalledProg, content)
	require.NoError(t, err)

	progType, err := bb.Types().TypeByID(AttrProgName)
	require.NoError(t, err)
	attr, err := NewAttribute(progType, "module-a", TextValue("Solitaire"))
	require.NoError(t, err)
	require.NoError(t, bb.AddAttribute(artifact, attr))

	require.NoError(t, bb.AppendAttributeSource(attr, "module-b"))
	// Appending the same tag twice is a no-op.
	require.NoError(t, bb.AppendAttributeSource(attr, "module-b"))

	loaded, err := bb.Attributes(artifact)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, []string{"module-a", "module-b"}, loaded[0].Sources)

	// Only persisted attributes can take new sources.
	fresh, err := NewAttribute(progType, "x", TextValue("y"))
	require.NoError(t, err)
	err = bb.AppendAttributeSource(fresh, "z")
	assert.True(t, IsValidationError(err))
}

func TestAppendAttributeSourceLeavesSameTypeSiblingsAlone(t *testing.T) {
	c := newTestCase(t)
	bb := c.Blackboard()
	content := newTestContent(t, c, "UTC")

	artifact, err := bb.NewArtifact(ArtifactWebHistory, content)
	require.NoError(t, err)

	commentType, err := bb.Types().TypeByID(AttrComment)
	require.NoError(t, err)
	first, err := NewAttribute(commentType, "module-a", TextValue("bookmarked"))
	require.NoError(t, err)
	second, err := NewAttribute(commentType, "module-a", TextValue("flagged"))
	require.NoError(t, err)
	require.NoError(t, bb.AddAttributes(artifact, []*Attribute{first, second}))

	require.NoError(t, bb.AppendAttributeSource(second, "module-b"))

	loaded, err := bb.Attributes(artifact)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, []string{"module-a"}, loaded[0].Sources)
	assert.Equal(t, []string{"module-a", "module-b"}, loaded[1].Sources)
}

func TestDisplayStringUsesDataSourceTimeZone(t *testing.T) {
	c := newTestCase(t)
	bb := c.Blackboard()
	content := newTestContent(t, c, "America/New_York")

	artifact, err := bb.NewArtifact(ArtifactWebHistory, content)
	require.NoError(t, err)

	accessedType, err := bb.Types().TypeByID(AttrDatetimeAccessed)
	require.NoError(t, err)
	attr, err := NewAttribute(accessedType, "", DatetimeValue(0))
	require.NoError(t, err)
	require.NoError(t, bb.AddAttribute(artifact, attr))

	assert.Equal(t, "1969-12-31 19:00:00 EST", bb.DisplayString(artifact, attr))

	urlType, err := bb.Types().TypeByID(AttrURL)
	require.NoError(t, err)
	urlAttr, err := NewAttribute(urlType, "", TextValue("https://example.org"))
	require.NoError(t, err)
	assert.Equal(t, "https://example.org", bb.DisplayString(artifact, urlAttr))
}

func TestAddDataSourceValidatesTimeZone(t *testing.T) {
	c := newTestCase(t)
	host := newHost(t, c, "WORKSTATION1")

	_, err := c.Content().AddDataSource(host, "dev-001", "image1.E01", "Not/AZone")
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	// Empty means unknown and is allowed; display falls back to UTC.
	ds, err := c.Content().AddDataSource(host, "dev-002", "image2.E01", "")
	require.NoError(t, err)
	assert.Empty(t, ds.TimeZone)
}
