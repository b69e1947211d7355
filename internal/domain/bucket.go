package domain

import (
	"maps"
	"slices"
)

// Bucket is the reporting category of a ticket status.
type Bucket string

// Bucket values.
const (
	BucketWorking Bucket = "working"
	BucketDone    Bucket = "done"
	BucketOnHold  Bucket = "on_hold"
)

// StatusBuckets groups canonical status names per workflow id.
// Each status slice is sorted and free of duplicates.
type StatusBuckets struct {
	// WorkflowID is the workflow unscoped references were attributed to.
	WorkflowID        string              `json:"workflowId"`
	WorkingByWorkflow map[string][]string `json:"workingByWorkflow"`
	DoneByWorkflow    map[string][]string `json:"doneByWorkflow"`
	// Malformed lists references that failed composite parsing and were kept as bare names.
	Malformed []string `json:"malformed,omitempty"`
}

// Bucketize resolves the working and done status lists of def.
// Unscoped references are attributed to def.ID.
func Bucketize(def WorkflowDefinition) StatusBuckets {
	out := StatusBuckets{WorkflowID: def.ID}
	var malformed []string
	out.WorkingByWorkflow, malformed = groupStatusRefs(def.ID, def.WorkingStatuses, malformed)
	out.DoneByWorkflow, malformed = groupStatusRefs(def.ID, def.DoneStatuses, malformed)
	out.Malformed = malformed
	return out
}

func groupStatusRefs(activeID string, refs []string, malformed []string) (map[string][]string, []string) {
	sets := map[string]map[string]struct{}{}
	for _, raw := range refs {
		ref, kind := ParseStatusRef(raw)
		if kind == StatusRefMalformed {
			malformed = append(malformed, raw)
		}
		name := ref.Canonical()
		if name == "" {
			continue
		}
		workflowID := ref.WorkflowID
		if workflowID == "" {
			workflowID = activeID
		}
		if sets[workflowID] == nil {
			sets[workflowID] = map[string]struct{}{}
		}
		sets[workflowID][name] = struct{}{}
	}
	out := make(map[string][]string, len(sets))
	for workflowID, names := range sets {
		out[workflowID] = slices.Sorted(maps.Keys(names))
	}
	return out, malformed
}

// Classify places a ticket status into a bucket. An empty workflowID means the
// bucketized workflow. Done wins when a status is
// listed in both buckets; anything unlisted is on hold.
func (b StatusBuckets) Classify(workflowID, status string) Bucket {
	ref, _ := ParseStatusRef(status)
	if ref.WorkflowID != "" {
		workflowID = ref.WorkflowID
	}
	if workflowID == "" {
		workflowID = b.WorkflowID
	}
	name := ref.Canonical()
	if slices.Contains(b.DoneByWorkflow[workflowID], name) {
		return BucketDone
	}
	if slices.Contains(b.WorkingByWorkflow[workflowID], name) {
		return BucketWorking
	}
	return BucketOnHold
}
