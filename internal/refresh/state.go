package refresh

import "fmt"

// State はスケジューラの状態を表す。
type State int

const (
	// StateIdle は一度もサイクルを実行していない状態。
	StateIdle State = iota
	// StateLoading はサイクルを実行中の状態。
	StateLoading
	// StateReady は直近のサイクルが成功した状態。
	StateReady
	// StateFailed は直近のサイクルが失敗した状態。保持しているフィードは以前のもの。
	StateFailed
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText は状態名でシリアライズする。
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
