package task

// Queue is an ordered list of tasks submitted together. The first entry is
// the most urgent one.
type Queue struct {
	tasks []*Task
}

// NewQueue returns a queue holding the given tasks in order.
func NewQueue(tasks ...*Task) *Queue {
	q := &Queue{}
	q.Append(tasks...)
	return q
}

// Append adds tasks at the end of the queue.
func (q *Queue) Append(tasks ...*Task) {
	q.tasks = append(q.tasks, tasks...)
}

// Tasks returns the queued tasks in order.
func (q *Queue) Tasks() []*Task {
	if q == nil {
		return nil
	}
	return q.tasks
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.tasks)
}

// Contains reports whether t is queued, by identity.
func (q *Queue) Contains(t *Task) bool {
	for _, qt := range q.Tasks() {
		if qt == t {
			return true
		}
	}
	return false
}

// RequiredForActivationCount returns how many graph-path tasks gate activation.
func (q *Queue) RequiredForActivationCount() int {
	n := 0
	for _, t := range q.Tasks() {
		if t.requiredForActivation && !t.UsesGPU() {
			n++
		}
	}
	return n
}
