// Package projector implements the §4.2 transform from the operation log
// into the read model: a ticking background task that discovers fresh work
// via oplog.Heights, fetches it via oplog.Range, and dispatches each
// operation by log_id to a typed handler.
package projector

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/joindelta/delta/internal/encryption"
	"github.com/joindelta/delta/internal/oplog"
	"github.com/joindelta/delta/internal/readmodel"
)

// tickInterval matches §4.2's "a single background task ticks every ~500ms".
const tickInterval = 500 * time.Millisecond

// Projector is the stateless, cursor-driven transform from the op log to
// the read model. It holds no state of its own beyond its collaborators —
// every cursor it advances lives in readmodel, so a crash mid-tick just
// means the next tick resumes from the last durably-advanced cursor.
type Projector struct {
	oplog *oplog.Store
	rm    *readmodel.Store
	enc   *encryption.Coordinator
	log   *logrus.Entry

	logIDs []oplog.LogID
}

// New builds a Projector over the given collaborators. logIDs lists every
// stream it should poll; callers typically pass every oplog.LogID constant.
func New(store *oplog.Store, rm *readmodel.Store, enc *encryption.Coordinator, log *logrus.Logger, logIDs []oplog.LogID) *Projector {
	return &Projector{
		oplog:  store,
		rm:     rm,
		enc:    enc,
		log:    log.WithField("component", "projector"),
		logIDs: logIDs,
	}
}

// Run ticks until ctx is canceled. It is meant to be spawned as an
// independent background task by bootstrap, per §4.8 step 5.
func (p *Projector) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick()
		}
	}
}

// Tick performs exactly one pass over every known log_id, per §4.2's
// numbered protocol. A handler error is logged and the op is skipped, but
// the cursor still advances — a permanently-malformed op must never wedge
// every op behind it. Exported so tests can drive the projector
// deterministically instead of waiting on the ticker.
func (p *Projector) Tick() {
	for _, logID := range p.logIDs {
		tips, err := p.oplog.Heights(logID)
		if err != nil {
			p.log.WithError(err).WithField("log_id", logID).Warn("failed to enumerate heights")
			continue
		}
		for _, tip := range tips {
			p.drainAuthor(logID, tip.AuthorHex, tip.SeqNum)
		}
	}
}

func (p *Projector) drainAuthor(logID oplog.LogID, authorHex string, tipSeq uint64) {
	cursor, _, err := p.rm.GetCursor(string(logID), authorHex)
	if err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{"log_id": logID, "author": authorHex}).Warn("failed to read cursor")
		return
	}
	if tipSeq <= cursor {
		return
	}
	stored, err := p.oplog.Range(authorHex, logID, cursor, tipSeq)
	if err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{"log_id": logID, "author": authorHex}).Warn("failed to range ops")
		return
	}
	for _, op := range stored {
		p.applyOne(logID, authorHex, op)
	}
}

func (p *Projector) applyOne(logID oplog.LogID, authorHex string, op oplog.Stored) {
	opHash, err := op.Header.Hash()
	if err != nil {
		p.log.WithError(err).WithField("log_id", logID).Warn("failed to hash operation, skipping")
		return
	}
	opHashHex := hex.EncodeToString(opHash[:])

	if err := p.dispatch(logID, authorHex, opHashHex, op); err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"log_id":   logID,
			"author":   authorHex,
			"op_hash":  opHashHex,
			"seq_num":  op.Header.SeqNum,
		}).Warn("projector handler failed, skipping operation")
	}

	if err := p.rm.SetCursor(string(logID), authorHex, op.Header.SeqNum); err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{"log_id": logID, "author": authorHex}).Error("failed to advance cursor")
	}
}

func (p *Projector) dispatch(logID oplog.LogID, authorHex, opHashHex string, op oplog.Stored) error {
	switch logID {
	case oplog.LogProfile:
		return p.handleProfile(authorHex, op)
	case oplog.LogKeyBundle:
		return p.handleKeyBundle(authorHex, op)
	case oplog.LogOrg:
		return p.handleOrg(authorHex, opHashHex, op)
	case oplog.LogRoom:
		return p.handleRoom(authorHex, opHashHex, op)
	case oplog.LogMessage:
		return p.handleMessage(authorHex, opHashHex, op)
	case oplog.LogReaction:
		return p.handleReaction(authorHex, op)
	case oplog.LogDMThread:
		return p.handleDMThread(authorHex, opHashHex, op)
	case oplog.LogMembership:
		return p.handleMembership(op)
	case oplog.LogEncCtrl:
		return p.handleEncControl(op)
	case oplog.LogEncDirect:
		return p.handleEncDirect(authorHex, op)
	default:
		p.log.WithField("log_id", logID).Debug("no handler registered for log_id, skipping")
		return nil
	}
}

func decodeBody(body []byte, v interface{}) error {
	return cbor.Unmarshal(body, v)
}
