package interview

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"interview-agent/internal/domain"
)

// SchemaVersion is the snapshot layout written by this build.
const SchemaVersion = 2

// Snapshot is the persisted state of one interview session.
type Snapshot struct {
	SchemaVersion int                  `cbor:"1,keyasint" json:"schemaVersion"`
	QuestionerLog []domain.ChatMessage `cbor:"2,keyasint" json:"questionerLog"`
	EvaluatorLog  []domain.ChatMessage `cbor:"3,keyasint" json:"evaluatorLog"`
	CriticizerLog []domain.ChatMessage `cbor:"4,keyasint" json:"criticizerLog"`
	Evaluation    string               `cbor:"5,keyasint" json:"evaluationText"`
	Questions     []string             `cbor:"6,keyasint" json:"questionLedger"`
	Answers       []string             `cbor:"7,keyasint" json:"answerLedger"`
	TurnCounter   int                  `cbor:"8,keyasint" json:"turnCounter"`
	Terminated    bool                 `cbor:"9,keyasint" json:"terminated"`
	Threshold     int                  `cbor:"10,keyasint" json:"threshold"`
	TurnBudget    int                  `cbor:"11,keyasint" json:"turnBudget"`
}

// NewSnapshot returns the state of a session that has not started yet.
func NewSnapshot() Snapshot {
	return Snapshot{
		SchemaVersion: SchemaVersion,
		Evaluation:    initialEvaluation,
		Threshold:     DefaultThreshold,
		TurnBudget:    DefaultTurnBudget,
	}
}

// Validate checks the structural invariants a snapshot must hold before it is resumed.
func (s Snapshot) Validate() error {
	if s.SchemaVersion != SchemaVersion {
		return corrupt(fmt.Sprintf("unsupported schema version %d (want %d)", s.SchemaVersion, SchemaVersion), nil)
	}
	if len(s.Questions) != len(s.Answers) {
		return corrupt(fmt.Sprintf("ledger length mismatch: %d questions, %d answers", len(s.Questions), len(s.Answers)), nil)
	}
	// The opening greeting counts as a turn without a ledger entry.
	if gap := s.TurnCounter - len(s.Questions); gap != 0 && gap != 1 {
		return corrupt(fmt.Sprintf("turn counter %d inconsistent with %d ledger entries", s.TurnCounter, len(s.Questions)), nil)
	}
	if s.Evaluation == "" {
		return corrupt("empty evaluation", nil)
	}
	if s.Threshold <= 0 {
		return corrupt(fmt.Sprintf("threshold %d must be positive", s.Threshold), nil)
	}
	if s.TurnBudget < 0 {
		return corrupt(fmt.Sprintf("turn budget %d must not be negative", s.TurnBudget), nil)
	}
	for name, log := range map[string][]domain.ChatMessage{
		"questioner": s.QuestionerLog,
		"evaluator":  s.EvaluatorLog,
		"criticizer": s.CriticizerLog,
	} {
		for i, m := range log {
			if !m.Role.Valid() {
				return corrupt(fmt.Sprintf("%s log entry %d has role %q", name, i, m.Role), nil)
			}
		}
	}
	return nil
}

var (
	encMode    cbor.EncMode
	decMode    cbor.DecMode
	headerMode cbor.DecMode
	zenc       *zstd.Encoder
	zdec       *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("interview: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic("interview: CBOR decoder initialization failed: " + err.Error())
	}
	headerMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("interview: CBOR header decoder initialization failed: " + err.Error())
	}
	zenc, err = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1), zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("interview: zstd encoder initialization failed: " + err.Error())
	}
	zdec, err = zstd.NewReader(nil)
	if err != nil {
		panic("interview: zstd decoder initialization failed: " + err.Error())
	}
}

// MarshalSnapshot validates and encodes a snapshot as zstd-compressed deterministic CBOR.
// Equal snapshots always encode to identical bytes.
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	raw, err := encMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("interview: encode snapshot: %w", err)
	}
	return zenc.EncodeAll(raw, nil), nil
}

// UnmarshalSnapshot decodes a stored snapshot, migrating older layouts and
// rejecting anything that fails validation.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	raw, err := zdec.DecodeAll(data, nil)
	if err != nil {
		return Snapshot{}, corrupt("decompress snapshot", err)
	}
	var header struct {
		SchemaVersion int `cbor:"1,keyasint"`
	}
	if err := headerMode.Unmarshal(raw, &header); err != nil {
		return Snapshot{}, corrupt("decode schema version", err)
	}

	var s Snapshot
	switch header.SchemaVersion {
	case 1:
		// Version 1 sessions ran with the default cadence and budget.
		if err := decMode.Unmarshal(raw, &s); err != nil {
			return Snapshot{}, corrupt("decode snapshot", err)
		}
		if s.Threshold != 0 || s.TurnBudget != 0 {
			return Snapshot{}, corrupt("version 1 snapshot carries version 2 fields", nil)
		}
		s.SchemaVersion = SchemaVersion
		s.Threshold = DefaultThreshold
		s.TurnBudget = DefaultTurnBudget
	case SchemaVersion:
		if err := decMode.Unmarshal(raw, &s); err != nil {
			return Snapshot{}, corrupt("decode snapshot", err)
		}
	default:
		return Snapshot{}, corrupt(fmt.Sprintf("unsupported schema version %d (max supported: %d)", header.SchemaVersion, SchemaVersion), nil)
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
