package research

import (
	"context"
	"errors"
	"sync"

	"github.com/vettan-ai/backend/internal/llm"
	"github.com/vettan-ai/backend/internal/search/web"
)

type fakeGenerator struct {
	mu      sync.Mutex
	calls   []llm.CompletionRequest
	respond func(req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

func (f *fakeGenerator) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeGenerator) Calls() []llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.CompletionRequest(nil), f.calls...)
}

func reply(content string) func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{
			Content: content,
			Model:   "gpt-4o-mini",
			Usage:   llm.Usage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500},
		}, nil
	}
}

var errProvider = errors.New("provider exploded")

func failing(llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, errProvider
}

type searchCall struct {
	resp  *web.Response
	err   error
	block bool
}

type fakeSearcher struct {
	byQuery map[string]searchCall
}

func (f *fakeSearcher) Search(ctx context.Context, query string, _ int) (*web.Response, error) {
	call, ok := f.byQuery[query]
	if !ok {
		return &web.Response{}, nil
	}
	if call.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return call.resp, call.err
}

func results(query string, urls []string, scores []float64) *web.Response {
	resp := &web.Response{Answer: "answer for " + query}
	for i, u := range urls {
		resp.Results = append(resp.Results, web.Result{
			Title:   "title " + u,
			URL:     u,
			Content: "content of " + u,
			Score:   scores[i],
		})
	}
	return resp
}
