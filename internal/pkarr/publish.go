package pkarr

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joindelta/delta/internal/readmodel"
)

// republishInterval matches pkarr_publish.rs's PKARR_REPUBLISH_INTERVAL_SECS
// (3000s = 50 minutes), preserved per §4.8 step 8.
const republishInterval = 50 * time.Minute

// Publisher signs and publishes a TXT record under the identity owning
// privateKeyHex. Speaking it onto the mainline DHT is out of scope for this
// module, which has no implementation that does so; bootstrap uses whatever
// Config.PkarrPublisher supplies, and tests use an in-memory one.
type Publisher interface {
	Publish(privateKeyHex, txtRecord string) error
}

// Resolver looks up the most recent TXT record published under a z32 key.
type Resolver interface {
	Resolve(z32Key string) (txtRecord string, found bool, err error)
}

// Resolve fetches and parses whatever record a Resolver holds for z32Key.
func Resolve(r Resolver, z32Key string) (Record, bool, error) {
	txt, found, err := r.Resolve(z32Key)
	if err != nil || !found {
		return Record{}, false, err
	}
	rec, err := ParseRecord(txt, z32Key)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Loop republishes every public profile and public org on a fixed cadence,
// per §4.8 step 8 and pkarr_publish.rs's start_republish_loop. It holds no
// state beyond its collaborators: a crash mid-cycle just means the next tick
// republishes everything again, which is harmless since publishing is
// idempotent.
type Loop struct {
	rm            *readmodel.Store
	publisher     Publisher
	privateKeyHex string
	log           *logrus.Entry
}

func NewLoop(rm *readmodel.Store, publisher Publisher, privateKeyHex string, log *logrus.Logger) *Loop {
	return &Loop{rm: rm, publisher: publisher, privateKeyHex: privateKeyHex, log: log.WithField("component", "pkarr")}
}

// Run ticks until ctx is canceled, republishing on every tick after the
// first. Spawned as an independent background task by bootstrap.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(republishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick()
		}
	}
}

// Tick republishes everything currently marked public. Exported so tests can
// drive one pass without waiting on the 50-minute ticker.
func (l *Loop) Tick() {
	profiles, err := l.rm.ListPublicProfiles()
	if err != nil {
		l.log.WithError(err).Warn("failed to list public profiles")
	}
	for _, p := range profiles {
		txt := BuildUserRecord(p.Username, p.Bio, p.AvatarBlobID)
		if err := l.publisher.Publish(l.privateKeyHex, txt); err != nil {
			l.log.WithError(err).WithField("public_key", p.PublicKeyHex).Warn("failed to republish profile")
		}
	}

	orgs, err := l.rm.SearchPublicOrgs("")
	if err != nil {
		l.log.WithError(err).Warn("failed to list public orgs")
	}
	for _, o := range orgs {
		txt := BuildOrgRecord(o.Name, o.Description, o.AvatarBlobID, o.CoverBlobID)
		if err := l.publisher.Publish(l.privateKeyHex, txt); err != nil {
			l.log.WithError(err).WithField("org_id", o.OrgID).Warn("failed to republish org")
		}
	}
}
