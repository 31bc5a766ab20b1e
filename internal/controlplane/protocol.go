package controlplane

import "encoding/json"

// Operation names the §6 Worker RPC protocol surface.
type Operation string

const (
	OpCreateWorker              Operation = "create_worker"
	OpInvokeAndAwaitWorker      Operation = "invoke_and_await_worker"
	OpInvokeWorker              Operation = "invoke_worker"
	OpGetWorkerMetadata         Operation = "get_worker_metadata"
	OpGetWorkersMetadata        Operation = "get_workers_metadata"
	OpGetRunningWorkersMetadata Operation = "get_running_workers_metadata"
	OpInterruptWorker           Operation = "interrupt_worker"
	OpResumeWorker              Operation = "resume_worker"
	OpDeleteWorker              Operation = "delete_worker"
	OpUpdateWorker              Operation = "update_worker"
	OpGetOplog                  Operation = "get_oplog"
	OpSearchOplog               Operation = "search_oplog"
	OpActivatePlugin            Operation = "activate_plugin"
	OpDeactivatePlugin          Operation = "deactivate_plugin"
	OpForkWorker                Operation = "fork_worker"
	OpRevertWorker              Operation = "revert_worker"
	OpCancelInvocation          Operation = "cancel_invocation"
	OpCompletePromise           Operation = "complete_promise"
	OpGetFileSystemNode         Operation = "get_file_system_node"
	OpGetFileContents           Operation = "get_file_contents"
)

// Request is the JSON envelope every Worker RPC protocol call arrives as,
// generalizing operator.Request's single fixed {cmd,pid,state} shape to an
// open Args payload per operation.
type Request struct {
	Operation Operation       `json:"operation"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// Response is the JSON envelope every call returns.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func ok(data interface{}) Response {
	raw, err := json.Marshal(data)
	if err != nil {
		return Response{Success: false, Error: "encode response: " + err.Error()}
	}
	return Response{Success: true, Data: raw}
}

func fail(err error) Response {
	return Response{Success: false, Error: err.Error()}
}
