package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Client -> Server message types.
const (
	MsgCreateGame   = "create_game"
	MsgHostGame     = "host_game"
	MsgJoin         = "join"
	MsgStartGame    = "start_game"
	MsgSelectLevel  = "select_level"
	MsgSubmitAnswer = "submit_answer"
	MsgEndGame      = "end_game"
	MsgGetGameState = "get_game_state"
)

// Server -> Client message types.
const (
	MsgGameCreated      = "game_created"
	MsgJoined           = "joined"
	MsgGameState        = "game_state"
	MsgTurnUpdate       = "turn_update"
	MsgQuestionAssigned = "question_assigned"
	MsgAnswerResult     = "answer_result"
	MsgScoreUpdate      = "score_update"
	MsgGameEnded        = "game_ended"
	MsgError            = "error"
)

// Error codes carried by error messages.
const (
	CodeMalformed         = "malformed_message"
	CodeSessionNotFound   = "session_not_found"
	CodeInvalidTransition = "invalid_transition"
	CodeInternal          = "internal"
)

const (
	CodeLength  = 6
	CodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

type ClientMessage struct {
	Type        string `json:"type"`
	GameCode    string `json:"gameCode,omitempty"`
	Name        string `json:"name,omitempty"`
	PlayerID    string `json:"playerId,omitempty"`
	Level       string `json:"level,omitempty"`
	AnswerIndex *int   `json:"answerIndex,omitempty"`
}

// MalformedError reports an inbound message that cannot be acted on.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string { return "malformed message: " + e.Reason }

func malformed(format string, args ...any) error {
	return &MalformedError{Reason: fmt.Sprintf(format, args...)}
}

func IsMalformed(err error) bool {
	var m *MalformedError
	return errors.As(err, &m)
}

// ParseClientMessage decodes and validates one inbound frame. The game code is
// upper-cased before validation.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var m ClientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ClientMessage{}, malformed("bad json")
	}
	m.GameCode = strings.ToUpper(strings.TrimSpace(m.GameCode))
	return m, m.Validate()
}

func (m ClientMessage) Validate() error {
	switch m.Type {
	case "":
		return malformed("missing type")
	case MsgCreateGame:
		return nil
	case MsgHostGame, MsgJoin, MsgStartGame, MsgSelectLevel, MsgSubmitAnswer, MsgEndGame, MsgGetGameState:
	default:
		return malformed("unknown type %q", m.Type)
	}

	if !ValidCode(m.GameCode) {
		return malformed("gameCode must be %d characters from [A-Z0-9]", CodeLength)
	}

	switch m.Type {
	case MsgJoin:
		if strings.TrimSpace(m.Name) == "" && m.PlayerID == "" {
			return malformed("join needs a name or a playerId")
		}
	case MsgSelectLevel:
		if m.Level == "" {
			return malformed("missing level")
		}
	case MsgSubmitAnswer:
		if m.AnswerIndex == nil {
			return malformed("missing answerIndex")
		}
	}
	return nil
}

func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(CodeCharset, rune(code[i])) {
			return false
		}
	}
	return true
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewError(code, message string) ErrorMessage {
	return ErrorMessage{Type: MsgError, Code: code, Message: message}
}

type GameCreatedMessage struct {
	Type     string `json:"type"`
	GameCode string `json:"gameCode"`
}

type JoinedMessage struct {
	Type     string `json:"type"`
	GameCode string `json:"gameCode"`
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Team     string `json:"team"`
}
