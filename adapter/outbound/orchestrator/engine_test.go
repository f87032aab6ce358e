package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type nopLogger struct{}

func (nopLogger) Error(msg string, args ...any) {}
func (nopLogger) Warn(msg string, args ...any)  {}
func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Debug(msg string, args ...any) {}

const testSecret = "profile-secret"

type engineRequest struct {
	Op     string
	ID     string
	Method string
	Args   map[string]any
	Auth   string
	Proto  int
}

// engineFailure is answered as an HTTP status or a gRPC status code
type engineFailure struct {
	status  int
	code    codes.Code
	message string
}

func (f *engineFailure) Error() string { return f.message }

// fakeEngine stands in for the orchestration engine on both transports
type fakeEngine struct {
	mu       sync.Mutex
	requests []engineRequest
	answer   func(op, method string, args map[string]any) (any, *engineFailure)
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{answer: func(op, method string, args map[string]any) (any, *engineFailure) {
		switch op {
		case opCall:
			return true, nil
		case opList:
			return []any{"api", "web"}, nil
		default:
			return map[string]any{"op": op}, nil
		}
	}}
}

func (e *fakeEngine) setAnswer(fn func(op, method string, args map[string]any) (any, *engineFailure)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.answer = fn
}

func (e *fakeEngine) record(r engineRequest) (any, *engineFailure) {
	e.mu.Lock()
	e.requests = append(e.requests, r)
	answer := e.answer
	e.mu.Unlock()
	return answer(r.Op, r.Method, r.Args)
}

func (e *fakeEngine) last(t *testing.T) engineRequest {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.requests) == 0 {
		t.Fatal("engine received no request")
	}
	return e.requests[len(e.requests)-1]
}

var opsByPath = map[string]string{}

func init() {
	for _, op := range []string{opEnsure, opDeploy, opRestart, opCall, opList, opInfo, opStatus, opTest, opPublish} {
		opsByPath["/"+strings.ToLower(op)] = op
	}
}

func (e *fakeEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	op, ok := opsByPath[r.URL.Path]
	if !ok || r.Method != http.MethodPost {
		http.Error(w, "no such operation", http.StatusMethodNotAllowed)
		return
	}
	var env struct {
		ID     string         `json:"id"`
		Method string         `json:"method"`
		Args   map[string]any `json:"args"`
	}
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, failure := e.record(engineRequest{
		Op:     op,
		ID:     env.ID,
		Method: env.Method,
		Args:   env.Args,
		Auth:   r.Header.Get("Authorization"),
		Proto:  r.ProtoMajor,
	})

	w.Header().Set("Content-Type", "application/json")
	if failure != nil {
		w.WriteHeader(failure.status)
		json.NewEncoder(w).Encode(map[string]any{"id": env.ID, "error": failure.message})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"id": env.ID, "result": result})
}

// serviceDesc registers the engine without generated stubs
func (e *fakeEngine) serviceDesc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
	}
	for _, op := range []string{opEnsure, opDeploy, opRestart, opCall, opList, opInfo, opStatus, opTest, opPublish} {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: op,
			Handler:    e.grpcHandler(op),
		})
	}
	return desc
}

func (e *fakeEngine) grpcHandler(op string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		req := new(structpb.Struct)
		if err := dec(req); err != nil {
			return nil, err
		}
		fields := req.AsMap()

		var auth string
		if md, ok := metadata.FromIncomingContext(ctx); ok && len(md.Get("authorization")) > 0 {
			auth = md.Get("authorization")[0]
		}
		args, _ := fields["args"].(map[string]any)
		id, _ := fields["id"].(string)
		method, _ := fields["method"].(string)

		result, failure := e.record(engineRequest{Op: op, ID: id, Method: method, Args: args, Auth: auth, Proto: 2})
		if failure != nil {
			return nil, status.Error(failure.code, failure.message)
		}
		return structpb.NewValue(result)
	}
}
