// Package pkarr builds and parses the §4.8 DNS TXT records a node publishes
// for public discovery, and drives the 50-minute republish loop. Actually
// speaking the records onto the mainline DHT is out of scope (pkarr DHT
// publishing is a named non-goal): this package produces and consumes the
// record bytes and leaves the transport to a Publisher/Resolver collaborator,
// the same split internal/gossip uses for its own out-of-scope transport.
package pkarr

import (
	"strings"

	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/keys"
)

const (
	recordVersion  = "v=delta1"
	maxBioLen      = 100
	maxDescLen     = 150
	truncateSuffix = "..."
)

// RecordType is the t= discriminator of a pkarr TXT record.
type RecordType string

const (
	RecordUser  RecordType = "user"
	RecordOrg   RecordType = "org"
	RecordRelay RecordType = "relay"
	RecordNone  RecordType = "none"
)

// Record is a parsed pkarr TXT record.
type Record struct {
	Type         RecordType
	PublicKeyZ32 string
	Username     string
	Name         string
	Bio          string
	Description  string
	AvatarBlobID string
	CoverBlobID  string
}

// truncate cuts s to at most max runes, appending "..." when it does (bio
// 100, description 150). The suffix counts against max: the kept prefix is
// max-3 runes, so a truncated result is exactly max runes long.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-len(truncateSuffix)]) + truncateSuffix
}

// BuildUserRecord assembles a user profile TXT record: v=delta1;t=user;u=...;b=...;a=...
func BuildUserRecord(username, bio, avatarBlobID string) string {
	parts := []string{recordVersion, "t=" + string(RecordUser), "u=" + username}
	if bio != "" {
		parts = append(parts, "b="+truncate(bio, maxBioLen))
	}
	if avatarBlobID != "" {
		parts = append(parts, "a="+avatarBlobID)
	}
	return strings.Join(parts, ";")
}

// BuildOrgRecord assembles an org profile TXT record:
// v=delta1;t=org;n=...;d=...;a=...;c=...
func BuildOrgRecord(name, description, avatarBlobID, coverBlobID string) string {
	parts := []string{recordVersion, "t=" + string(RecordOrg), "n=" + name}
	if description != "" {
		parts = append(parts, "d="+truncate(description, maxDescLen))
	}
	if avatarBlobID != "" {
		parts = append(parts, "a="+avatarBlobID)
	}
	if coverBlobID != "" {
		parts = append(parts, "c="+coverBlobID)
	}
	return strings.Join(parts, ";")
}

// BuildTombstoneRecord is the short-lived record published on profile
// removal, signaling "nothing published here anymore".
func BuildTombstoneRecord() string {
	return recordVersion + ";t=" + string(RecordNone)
}

// ParseRecord decodes a semicolon-separated TXT value into a Record. Unknown
// keys are ignored rather than rejected, so a future field addition does not
// break an older parser.
func ParseRecord(txt, publicKeyZ32 string) (Record, error) {
	if !strings.HasPrefix(txt, recordVersion) {
		return Record{}, errs.InvalidInput("pkarr: unsupported record version in %q", txt)
	}
	rec := Record{Type: RecordNone, PublicKeyZ32: publicKeyZ32}
	for _, part := range strings.Split(txt, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			rec.Type = RecordType(value)
		case "u":
			rec.Username = value
		case "n":
			rec.Name = value
		case "b":
			rec.Bio = value
		case "d":
			rec.Description = value
		case "a":
			rec.AvatarBlobID = value
		case "c":
			rec.CoverBlobID = value
		}
	}
	return rec, nil
}

// GetURL returns the pk:<z32> URL for a public key, per §6's get_pkarr_url.
func GetURL(publicKeyHex string) (string, error) {
	pub, err := keys.ParsePublicHex(publicKeyHex)
	if err != nil {
		return "", err
	}
	return "pk:" + EncodeZ32(pub), nil
}

// ParseURL extracts the z32-encoded key from a pk:<z32> URL, per §6's
// resolve_pkarr input shape. ok is false if url does not carry the prefix.
func ParseURL(url string) (z32Key string, ok bool) {
	return strings.CutPrefix(url, "pk:")
}
