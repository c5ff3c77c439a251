package domain

const (
	SessionActive   = "active"
	SessionFinished = "finished"
)

// Session is the persisted, versioned envelope around an encoded interview snapshot.
type Session struct {
	ID           string
	Name         string
	Version      int
	State        []byte
	Status       string
	Turns        int
	LastActivity string
	TTL          int64
}
