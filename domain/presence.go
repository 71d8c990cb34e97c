package domain

// Presence binds one live connection to one identity in exactly one room.
// The connection ID is the exclusive owning key: a presence is created on
// join and destroyed on disconnect, never moved between rooms.
type Presence struct {
	ConnectionID string
	Identity     Identity
	Room         string
}
