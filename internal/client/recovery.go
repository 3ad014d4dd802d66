package client

import (
	"errors"

	"github.com/billychen0894/spareTalk/internal/errorx"
	"github.com/billychen0894/spareTalk/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Phase is the step of the recovery handshake that is waiting for an answer.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStart
	PhaseCheck
	PhaseRetrieve
	PhaseLive
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseCheck:
		return "check"
	case PhaseRetrieve:
		return "retrieve"
	case PhaseLive:
		return "live"
	default:
		return "idle"
	}
}

// Action is a request the caller has to emit.
type Action struct {
	Event         string
	CorrelationID string
	Payload       any
}

var errStaleResponse = errorx.New(errorx.KindProtocol, "response does not match the outstanding request")

// Recovery runs the handshake that either resumes the stored session or
// starts a fresh match. It is driven by one goroutine.
type Recovery struct {
	store SessionStore
	newID func() string

	phase   Phase
	pending string
	session models.Session
}

// NewRecovery returns a Recovery backed by store.
func NewRecovery(store SessionStore) *Recovery {
	return &Recovery{store: store, newID: uuid.NewString}
}

// Phase returns the step in progress.
func (r *Recovery) Phase() Phase { return r.phase }

// Session returns the session the handshake settled on, if any.
func (r *Recovery) Session() models.Session { return r.session }

// Pending is the correlation id of the outstanding request.
func (r *Recovery) Pending() string { return r.pending }

// Begin starts the handshake for a new connection and supersedes any request
// of an earlier one. A corrupt or half-written record is wiped and never
// sent.
func (r *Recovery) Begin(participantID string) (Action, error) {
	sess, err := r.store.Load()
	if err != nil && !errors.Is(err, ErrCorruptSession) {
		return Action{}, err
	}
	if err != nil || (!sess.Empty() && !sess.Complete()) {
		zap.L().Info("clearing unusable stored session", zap.Error(err))
		if err := r.store.Clear(); err != nil {
			return Action{}, err
		}
		sess = models.Session{}
	}

	if sess.Complete() {
		r.session = sess
		return r.next(PhaseCheck, models.EventCheckSession, models.CheckSessionPayload{
			ChatRoomID: sess.ChatRoomID,
			SessionID:  sess.SessionID,
		}), nil
	}
	return r.start(participantID), nil
}

// HandleSession takes the answer to start-chat: the session is stored and
// history is requested.
func (r *Recovery) HandleSession(env models.Envelope) (Action, error) {
	if err := r.expect(PhaseStart, env); err != nil {
		return Action{}, err
	}
	var sess models.Session
	if err := env.Decode(&sess); err != nil || !sess.Complete() {
		return Action{}, errorx.New(errorx.KindProtocol, "malformed session payload")
	}
	if err := r.store.Save(sess); err != nil {
		return Action{}, err
	}
	r.session = sess
	return r.retrieve(), nil
}

// HandleCheck takes the answer to check-chatRoom-session. A null answer
// wipes the store and falls back to start-chat; otherwise it returns the
// room and the history request.
func (r *Recovery) HandleCheck(env models.Envelope, participantID string) (*models.ChatRoom, Action, error) {
	if err := r.expect(PhaseCheck, env); err != nil {
		return nil, Action{}, err
	}
	if env.IsNull() {
		zap.L().Info("stored session rejected, matching again", zap.String("roomID", r.session.ChatRoomID))
		if err := r.store.Clear(); err != nil {
			return nil, Action{}, err
		}
		r.session = models.Session{}
		return nil, r.start(participantID), nil
	}
	var room models.ChatRoom
	if err := env.Decode(&room); err != nil {
		return nil, Action{}, errorx.Wrap(err, errorx.KindProtocol, "malformed chat room payload")
	}
	return &room, r.retrieve(), nil
}

// HandleHistory takes the answer to retrieve-chat-messages. full tells a
// complete history from a gap fill.
func (r *Recovery) HandleHistory(env models.Envelope) (msgs []models.ChatMessage, full bool, err error) {
	if err := r.expect(PhaseRetrieve, env); err != nil {
		return nil, false, err
	}
	if err := env.Decode(&msgs); err != nil {
		return nil, false, errorx.Wrap(err, errorx.KindProtocol, "malformed history payload")
	}
	r.phase, r.pending = PhaseLive, ""
	return msgs, env.Event == models.EventChatHistory, nil
}

// Forget drops the stored session and returns to idle.
func (r *Recovery) Forget() error {
	r.phase, r.pending, r.session = PhaseIdle, "", models.Session{}
	return r.store.Clear()
}

// Reset abandons the outstanding request without touching the store.
func (r *Recovery) Reset() {
	r.phase, r.pending = PhaseIdle, ""
}

func (r *Recovery) start(participantID string) Action {
	r.session = models.Session{}
	return r.next(PhaseStart, models.EventStartChat, models.StartChatPayload{ParticipantID: participantID})
}

func (r *Recovery) retrieve() Action {
	return r.next(PhaseRetrieve, models.EventRetrieveChat, models.RetrieveChatPayload{ChatRoomID: r.session.ChatRoomID})
}

func (r *Recovery) next(phase Phase, event string, payload any) Action {
	r.phase = phase
	r.pending = r.newID()
	return Action{Event: event, CorrelationID: r.pending, Payload: payload}
}

func (r *Recovery) expect(phase Phase, env models.Envelope) error {
	if r.phase != phase || env.CorrelationID != r.pending {
		return errStaleResponse
	}
	return nil
}
