package drop

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"

	"github.com/flashgrid/dropcoordinator/internal/config"
	"github.com/flashgrid/dropcoordinator/internal/dropserr"
	"github.com/flashgrid/dropcoordinator/internal/geo"
)

// ModuleName is the Nakama match name this package registers under.
const ModuleName = "drop"

// Match implements runtime.Match (spec.md §0 runtime mapping: one match
// instance per dropId is Nakama's single-writer-per-key guarantee).
type Match struct{}

// signalRequest is the envelope every MatchSignal call carries — an
// operation name plus its JSON payload.
type signalRequest struct {
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
}

type signalResponse struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func respond(result interface{}, err error) string {
	resp := signalResponse{Result: result}
	if err != nil {
		resp.Error = err.Error()
	}
	raw, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		raw, _ = json.Marshal(signalResponse{Error: "failed to marshal response"})
	}
	return string(raw)
}

// MatchInit creates a fresh drop's state from the caller-supplied config
// and immediately runs initialize (spec.md §4.1 initialize), since a
// Nakama match only exists once MatchCreate runs — there is no prior
// "does this drop exist" check to make, unlike the other storekv-backed
// actors.
func (m *Match) MatchInit(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, params map[string]interface{}) (interface{}, int, string) {
	dropID, _ := params["dropId"].(string)
	s := newState(dropID)

	var cfg config.DropConfig
	if raw, ok := params["config"].(string); ok && raw != "" {
		strict, _ := params["strict"].(bool)
		decoded, err := config.Decode([]byte(raw), strict)
		if err != nil {
			logger.Error("drop match init: invalid config: %v", err)
			cfg = config.Defaults()
		} else {
			cfg = decoded
		}
	} else {
		cfg = config.Defaults()
	}

	d := deps{ctx: ctx, logger: logger, nk: nk, now: time.Now()}
	if _, err := handleInitialize(d, s, cfg); err != nil {
		logger.Error("drop match init: initialize failed: %v", err)
	}

	return s, 1, dropID
}

func (m *Match) MatchJoinAttempt(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presence runtime.Presence, metadata map[string]string) (interface{}, bool, string) {
	return state, true, ""
}

func (m *Match) MatchJoin(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	s := state.(*State)
	d := deps{ctx: ctx, logger: logger, nk: nk, dispatcher: dispatcher, now: time.Now()}
	publishState(d, s)
	return s
}

func (m *Match) MatchLeave(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	return state
}

// MatchLoop drives the scheduled-task table: it is the substitute for a
// delayed-send primitive Nakama doesn't offer natively (spec.md §0).
func (m *Match) MatchLoop(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, messages []runtime.MatchData) interface{} {
	s := state.(*State)
	d := deps{ctx: ctx, logger: logger, nk: nk, dispatcher: dispatcher, now: time.Now()}
	runDueTasks(d, s)
	return s
}

func (m *Match) MatchTerminate(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, graceSeconds int) interface{} {
	return state
}

// MatchSignal is the RPC surface for every Drop handler in spec.md §4.1
// except initialize, which only runs once at match creation.
func (m *Match) MatchSignal(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, data string) (interface{}, string) {
	s := state.(*State)
	d := deps{ctx: ctx, logger: logger, nk: nk, dispatcher: dispatcher, now: time.Now()}

	var req signalRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return s, respond(nil, dropserr.ErrInvalidInput)
	}

	switch req.Op {
	case "register":
		var payload struct {
			UserID         string     `json:"userId"`
			DesiredTickets int64      `json:"desiredTickets"`
			Location       *geo.Point `json:"location,omitempty"`
		}
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return s, respond(nil, dropserr.ErrInvalidInput)
		}
		result, err := handleRegister(d, s, RegisterRequest{
			UserID:         payload.UserID,
			DesiredTickets: payload.DesiredTickets,
			Location:       payload.Location,
		})
		return s, respond(result, err)

	case "runLottery":
		result, err := handleRunLottery(d, s)
		return s, respond(result, err)

	case "startPurchase":
		var payload struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return s, respond(nil, dropserr.ErrInvalidInput)
		}
		result, err := handleStartPurchase(d, s, payload.UserID)
		return s, respond(result, err)

	case "completePurchase":
		var payload struct {
			UserID string `json:"userId"`
			Token  string `json:"token"`
		}
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return s, respond(nil, dropserr.ErrInvalidInput)
		}
		result, err := handleCompletePurchase(d, s, payload.UserID, payload.Token)
		return s, respond(result, err)

	case "checkWinnerExpiry":
		var payload struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return s, respond(nil, dropserr.ErrInvalidInput)
		}
		result, err := handleCheckWinnerExpiry(d, s, payload.UserID)
		return s, respond(result, err)

	case "closePurchaseWindow":
		result, err := handleClosePurchaseWindow(d, s)
		return s, respond(result, err)

	case "promoteBackup":
		result, err := handlePromoteBackup(d, s)
		return s, respond(result, err)

	case "getLotteryProof":
		return s, respond(handleGetLotteryProof(s), nil)

	case "getInclusionProof":
		var payload struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return s, respond(nil, dropserr.ErrInvalidInput)
		}
		result, err := handleGetInclusionProof(s, payload.UserID)
		return s, respond(result, err)

	case "getState":
		return s, respond(handleGetState(s), nil)

	case "getConfig":
		return s, respond(handleGetConfig(s), nil)

	default:
		return s, respond(nil, dropserr.ErrInvalidInput)
	}
}
