package queueproxy

import "errors"

// errShardLockHeld is returned by Start when another process already
// holds this shard's distributed lock.
var errShardLockHeld = errors.New("queueproxy: shard lock already held by another process")
