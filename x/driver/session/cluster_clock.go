// Package session implements logical session bookkeeping: the cluster
// clock, the session pool, and per-session transaction/cursor pinning
// used for causal consistency and transaction routing.
package session

import (
	"sync"

	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
)

// ClusterClock represents a logical clock for keeping track of cluster time.
type ClusterClock struct {
	clusterTime bsoncore.Document
	mu          sync.Mutex
}

// GetClusterTime returns the cluster time in the cluster clock.
func (cc *ClusterClock) GetClusterTime() bsoncore.Document {
	if cc == nil {
		return nil
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.clusterTime
}

// AdvanceClusterTime updates the cluster clock if the given cluster time is
// strictly greater than the existing one.
func (cc *ClusterClock) AdvanceClusterTime(clusterTime bsoncore.Document) {
	if cc == nil || clusterTime == nil {
		return
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.clusterTime = MaxClusterTime(cc.clusterTime, clusterTime)
}

// MaxClusterTime compares two cluster times and returns the newer one,
// comparing the embedded $clusterTime.clusterTime timestamp.
func MaxClusterTime(ct1, ct2 bsoncore.Document) bsoncore.Document {
	switch {
	case ct1 == nil:
		return ct2
	case ct2 == nil:
		return ct1
	}
	val1, err1 := ct1.LookupErr("clusterTime")
	val2, err2 := ct2.LookupErr("clusterTime")
	if err1 != nil {
		return ct2
	}
	if err2 != nil {
		return ct1
	}
	t1, _ := val1.AsInt64OK()
	t2, _ := val2.AsInt64OK()
	if t1 >= t2 {
		return ct1
	}
	return ct2
}
