package pkarr_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/joindelta/delta/internal/keys"
	"github.com/joindelta/delta/internal/pkarr"
	"github.com/joindelta/delta/internal/readmodel"
	"github.com/joindelta/delta/internal/store"
)

func TestZ32RoundTrip(t *testing.T) {
	_, kp, err := keys.Generate()
	require.NoError(t, err)

	encoded := pkarr.EncodeZ32(kp.Public)
	decoded, err := pkarr.DecodeZ32(encoded)
	require.NoError(t, err)
	require.Equal(t, []byte(kp.Public), decoded)
}

func TestGetURLAndParseURL(t *testing.T) {
	_, kp, err := keys.Generate()
	require.NoError(t, err)

	url, err := pkarr.GetURL(kp.PublicHex())
	require.NoError(t, err)
	require.Regexp(t, `^pk:`, url)

	z32Key, ok := pkarr.ParseURL(url)
	require.True(t, ok)
	decoded, err := pkarr.DecodeZ32(z32Key)
	require.NoError(t, err)
	require.Equal(t, []byte(kp.Public), decoded)
}

func TestBuildUserRecordTruncatesBio(t *testing.T) {
	longBio := ""
	for i := 0; i < 120; i++ {
		longBio += "a"
	}
	txt := pkarr.BuildUserRecord("alice", longBio, "")
	rec, err := pkarr.ParseRecord(txt, "z32key")
	require.NoError(t, err)
	require.Equal(t, pkarr.RecordUser, rec.Type)
	require.Equal(t, "alice", rec.Username)
	require.Len(t, rec.Bio, 100)
	require.Regexp(t, `\.\.\.$`, rec.Bio)
}

func TestBuildOrgRecordTruncatesDescription(t *testing.T) {
	longDesc := ""
	for i := 0; i < 200; i++ {
		longDesc += "b"
	}
	txt := pkarr.BuildOrgRecord("acme", longDesc, "avatar-blob", "cover-blob")
	rec, err := pkarr.ParseRecord(txt, "z32key")
	require.NoError(t, err)
	require.Equal(t, pkarr.RecordOrg, rec.Type)
	require.Equal(t, "acme", rec.Name)
	require.Len(t, rec.Description, 150)
	require.Equal(t, "avatar-blob", rec.AvatarBlobID)
	require.Equal(t, "cover-blob", rec.CoverBlobID)
}

func TestParseRelayRecord(t *testing.T) {
	txt := "v=delta1;t=relay;n=https://relay.delta.app/hop;a=abc123"
	rec, err := pkarr.ParseRecord(txt, "z32key")
	require.NoError(t, err)
	require.Equal(t, pkarr.RecordRelay, rec.Type)
	require.Equal(t, "https://relay.delta.app/hop", rec.Name)
	require.Equal(t, "abc123", rec.AvatarBlobID)
}

func TestTombstoneRecordParsesAsNone(t *testing.T) {
	rec, err := pkarr.ParseRecord(pkarr.BuildTombstoneRecord(), "z32key")
	require.NoError(t, err)
	require.Equal(t, pkarr.RecordNone, rec.Type)
}

// fakePublisher records every publish call in place of speaking to the DHT,
// which is out of scope for this module.
type fakePublisher struct {
	published []string
}

func (f *fakePublisher) Publish(privateKeyHex, txtRecord string) error {
	f.published = append(f.published, txtRecord)
	return nil
}

func TestLoopRepublishesPublicProfilesAndOrgs(t *testing.T) {
	db, err := store.Open(t.TempDir(), logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	rm := readmodel.Open(db)

	require.NoError(t, rm.UpsertProfile(readmodel.Profile{
		PublicKeyHex: "aa", Username: "alice", Bio: "hi", IsPublic: true,
	}))
	require.NoError(t, rm.UpsertProfile(readmodel.Profile{
		PublicKeyHex: "bb", Username: "bob", IsPublic: false,
	}))
	require.NoError(t, rm.CreateOrg(readmodel.Organization{
		OrgID: "org1", Name: "acme", IsPublic: true, CreatorKey: "aa",
	}))

	pub := &fakePublisher{}
	loop := pkarr.NewLoop(rm, pub, "deadbeef", logrus.New())
	loop.Tick()

	require.Len(t, pub.published, 2)
}
