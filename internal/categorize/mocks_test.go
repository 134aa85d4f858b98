package categorize

import (
	"context"
	"sync"

	"chatport/internal/classify"
)

// recordedCall captures one Classify invocation for assertions.
type recordedCall struct {
	ids          []string
	snippets     map[string]string
	projects     []string
	descriptions map[string]string
}

// fakeClassifier scripts results per conversation ID: each call pops the next
// queued result for every requested ID, so pass 1 and pass 2 can return
// different scores.
type fakeClassifier struct {
	mu      sync.Mutex
	results map[string][]classify.Result
	calls   []recordedCall

	failures int   // fail this many leading calls
	err      error // error returned by failing calls
}

func (f *fakeClassifier) Classify(ctx context.Context, batch []classify.Request, projects []string, descriptions map[string]string) ([]classify.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := recordedCall{
		snippets:     make(map[string]string, len(batch)),
		projects:     projects,
		descriptions: descriptions,
	}
	for _, req := range batch {
		call.ids = append(call.ids, req.ID)
		call.snippets[req.ID] = req.Snippet
	}
	f.calls = append(f.calls, call)

	if f.failures > 0 {
		f.failures--
		return nil, f.err
	}

	var out []classify.Result
	for _, req := range batch {
		queue := f.results[req.ID]
		if len(queue) == 0 {
			continue // scripted absence from the reply
		}
		out = append(out, queue[0])
		f.results[req.ID] = queue[1:]
	}
	return out, nil
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeClassifier) recordedCalls() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// describingClassifier adds a canned DescribeProjects implementation on top of
// fakeClassifier.
type describingClassifier struct {
	fakeClassifier
	descriptions map[string]string
	describeErr  error

	describeCalls int
	sampleArg     map[string][]classify.Request
}

func (d *describingClassifier) DescribeProjects(ctx context.Context, projects []string, samples map[string][]classify.Request) (map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.describeCalls++
	d.sampleArg = samples
	if d.describeErr != nil {
		return nil, d.describeErr
	}
	return d.descriptions, nil
}
