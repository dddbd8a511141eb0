package engine

import "encoding/json"

// FetchAndLockRequest is the body of POST /external-task/fetchAndLock.
type FetchAndLockRequest struct {
	WorkerID             string         `json:"workerId"`
	MaxTasks             int            `json:"maxTasks"`
	UsePriority          bool           `json:"usePriority"`
	AsyncResponseTimeout *int64         `json:"asyncResponseTimeout,omitempty"`
	Topics               []TopicRequest `json:"topics"`
}

// TopicRequest describes one topic inside a fetch request. A nil Variables
// slice is sent as null and fetches every variable; an empty one fetches none.
type TopicRequest struct {
	TopicName                   string   `json:"topicName"`
	LockDuration                int64    `json:"lockDuration"`
	Variables                   []string `json:"variables"`
	LocalVariables              bool     `json:"localVariables"`
	BusinessKey                 string   `json:"businessKey,omitempty"`
	ProcessDefinitionID         string   `json:"processDefinitionId,omitempty"`
	ProcessDefinitionIDIn       []string `json:"processDefinitionIdIn,omitempty"`
	ProcessDefinitionKey        string   `json:"processDefinitionKey,omitempty"`
	ProcessDefinitionKeyIn      []string `json:"processDefinitionKeyIn,omitempty"`
	ProcessDefinitionVersionTag string   `json:"processDefinitionVersionTag,omitempty"`
	WithoutTenantID             bool     `json:"withoutTenantId,omitempty"`
	TenantIDIn                  []string `json:"tenantIdIn,omitempty"`
	IncludeExtensionProperties  bool     `json:"includeExtensionProperties"`
}

// LockedExternalTask is one element of the fetchAndLock response.
type LockedExternalTask struct {
	ActivityID                  string                   `json:"activityId"`
	ActivityInstanceID          string                   `json:"activityInstanceId"`
	ErrorMessage                string                   `json:"errorMessage"`
	ErrorDetails                string                   `json:"errorDetails"`
	ExecutionID                 string                   `json:"executionId"`
	ID                          string                   `json:"id"`
	LockExpirationTime          string                   `json:"lockExpirationTime"`
	ProcessDefinitionID         string                   `json:"processDefinitionId"`
	ProcessDefinitionKey        string                   `json:"processDefinitionKey"`
	ProcessDefinitionVersionTag string                   `json:"processDefinitionVersionTag"`
	ProcessInstanceID           string                   `json:"processInstanceId"`
	Retries                     *int                     `json:"retries"`
	WorkerID                    string                   `json:"workerId"`
	TopicName                   string                   `json:"topicName"`
	TenantID                    string                   `json:"tenantId"`
	Priority                    int64                    `json:"priority"`
	BusinessKey                 string                   `json:"businessKey"`
	Variables                   map[string]VariableValue `json:"variables"`
	ExtensionProperties         map[string]string        `json:"extensionProperties"`
}

// VariableValue is the engine's typed variable representation.
type VariableValue struct {
	Value     json.RawMessage        `json:"value"`
	Type      string                 `json:"type"`
	ValueInfo map[string]interface{} `json:"valueInfo,omitempty"`
}

// CompleteRequest is the body of POST /external-task/{id}/complete.
type CompleteRequest struct {
	WorkerID       string                   `json:"workerId"`
	Variables      map[string]VariableValue `json:"variables,omitempty"`
	LocalVariables map[string]VariableValue `json:"localVariables,omitempty"`
}

// FailureRequest is the body of POST /external-task/{id}/failure.
type FailureRequest struct {
	WorkerID     string `json:"workerId"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	ErrorDetails string `json:"errorDetails,omitempty"`
	Retries      int    `json:"retries"`
	RetryTimeout int64  `json:"retryTimeout"`
}

// BPMNErrorRequest is the body of POST /external-task/{id}/bpmnError.
type BPMNErrorRequest struct {
	WorkerID     string                   `json:"workerId"`
	ErrorCode    string                   `json:"errorCode"`
	ErrorMessage string                   `json:"errorMessage,omitempty"`
	Variables    map[string]VariableValue `json:"variables,omitempty"`
}

// ExtendLockRequest is the body of POST /external-task/{id}/extendLock.
type ExtendLockRequest struct {
	WorkerID    string `json:"workerId"`
	NewDuration int64  `json:"newDuration"`
}

type modificationsRequest struct {
	Modifications map[string]VariableValue `json:"modifications"`
}

// errorResponse is the engine's JSON error body.
type errorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
