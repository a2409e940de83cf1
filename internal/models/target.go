package models

import "errors"

var (
	ErrTargetMissing   = errors.New("either receiver_id or group_id is required")
	ErrTargetAmbiguous = errors.New("receiver_id and group_id are mutually exclusive")
)

type targetKind uint8

const (
	targetNone targetKind = iota
	targetDirect
	targetGroup
)

// ThreadTarget addresses a message either to one user or to a group.
type ThreadTarget struct {
	kind targetKind
	id   int
}

// DirectTarget addresses a user.
func DirectTarget(userID int) ThreadTarget {
	return ThreadTarget{kind: targetDirect, id: userID}
}

// GroupTarget addresses a group.
func GroupTarget(groupID int) ThreadTarget {
	return ThreadTarget{kind: targetGroup, id: groupID}
}

// ParseTarget builds a target from the optional receiver and group ids of a request.
func ParseTarget(receiverID, groupID *int) (ThreadTarget, error) {
	switch {
	case receiverID != nil && groupID != nil:
		return ThreadTarget{}, ErrTargetAmbiguous
	case receiverID != nil:
		return DirectTarget(*receiverID), nil
	case groupID != nil:
		return GroupTarget(*groupID), nil
	default:
		return ThreadTarget{}, ErrTargetMissing
	}
}

func (t ThreadTarget) IsDirect() bool { return t.kind == targetDirect }
func (t ThreadTarget) IsGroup() bool  { return t.kind == targetGroup }
func (t ThreadTarget) Valid() bool    { return t.kind != targetNone && t.id > 0 }

// UserID returns the receiver of a direct target, or zero.
func (t ThreadTarget) UserID() int {
	if t.kind == targetDirect {
		return t.id
	}
	return 0
}

// GroupID returns the group of a group target, or zero.
func (t ThreadTarget) GroupID() int {
	if t.kind == targetGroup {
		return t.id
	}
	return 0
}

// ThreadFor resolves the thread seen from the given sender.
func (t ThreadTarget) ThreadFor(senderID int) Thread {
	switch t.kind {
	case targetGroup:
		return GroupThread(t.id)
	case targetDirect:
		return DirectThread(senderID, t.id)
	default:
		return Thread{}
	}
}

// Thread identifies a message stream: a group, or an unordered pair of users.
type Thread struct {
	GroupID int
	UserLow int
	UserHi  int
}

// DirectThread normalises the pair so that (a, b) and (b, a) are equal.
func DirectThread(a, b int) Thread {
	if a > b {
		a, b = b, a
	}
	return Thread{UserLow: a, UserHi: b}
}

// GroupThread identifies a group stream.
func GroupThread(groupID int) Thread {
	return Thread{GroupID: groupID}
}

func (t Thread) IsGroup() bool { return t.GroupID != 0 }

// Includes reports whether the user takes part in a direct thread.
func (t Thread) Includes(userID int) bool {
	return !t.IsGroup() && (t.UserLow == userID || t.UserHi == userID)
}
