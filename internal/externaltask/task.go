package externaltask

import (
	"fmt"
	"time"

	"github.com/kjstillabower/external-task-worker/internal/engine"
)

// ExternalTask is a task locked for this worker by fetchAndLock.
type ExternalTask struct {
	ID                          string
	TopicName                   string
	WorkerID                    string
	ActivityID                  string
	ActivityInstanceID          string
	ExecutionID                 string
	ProcessInstanceID           string
	ProcessDefinitionID         string
	ProcessDefinitionKey        string
	ProcessDefinitionVersionTag string
	BusinessKey                 string
	TenantID                    string
	Priority                    int64
	Retries                     *int
	ErrorMessage                string
	ErrorDetails                string
	LockExpirationTime          time.Time
	ExtensionProperties         map[string]string

	variables  Variables
	decodeErrs map[string]error
}

// DecodeTask converts a task as returned by fetchAndLock. An empty dateFormat
// selects DefaultDateFormat.
func DecodeTask(locked engine.LockedExternalTask, dateFormat string) *ExternalTask {
	return newExternalTask(locked, variableCodec{dateFormat: dateFormat, serializationFormat: SerializationFormatJSON})
}

// newExternalTask never rejects a task. Variables that fail to decode report
// their error from the typed getters, and an unparseable lock expiration time
// is left zero.
func newExternalTask(locked engine.LockedExternalTask, codec variableCodec) *ExternalTask {
	vars, failed := codec.decodeAll(locked.Variables)
	task := &ExternalTask{
		ID:                          locked.ID,
		TopicName:                   locked.TopicName,
		WorkerID:                    locked.WorkerID,
		ActivityID:                  locked.ActivityID,
		ActivityInstanceID:          locked.ActivityInstanceID,
		ExecutionID:                 locked.ExecutionID,
		ProcessInstanceID:           locked.ProcessInstanceID,
		ProcessDefinitionID:         locked.ProcessDefinitionID,
		ProcessDefinitionKey:        locked.ProcessDefinitionKey,
		ProcessDefinitionVersionTag: locked.ProcessDefinitionVersionTag,
		BusinessKey:                 locked.BusinessKey,
		TenantID:                    locked.TenantID,
		Priority:                    locked.Priority,
		Retries:                     locked.Retries,
		ErrorMessage:                locked.ErrorMessage,
		ErrorDetails:                locked.ErrorDetails,
		ExtensionProperties:         locked.ExtensionProperties,
		variables:                   vars,
		decodeErrs:                  failed,
	}
	if locked.LockExpirationTime != "" {
		if ts, err := time.Parse(codec.dateLayout(), locked.LockExpirationTime); err == nil {
			task.LockExpirationTime = ts
		} else if ts, err := time.Parse(time.RFC3339Nano, locked.LockExpirationTime); err == nil {
			task.LockExpirationTime = ts
		}
	}
	return task
}

// DecodeErrors returns the variables that could not be decoded, keyed by name.
func (t *ExternalTask) DecodeErrors() map[string]error {
	out := make(map[string]error, len(t.decodeErrs))
	for k, v := range t.decodeErrs {
		out[k] = v
	}
	return out
}

// Variables returns a copy of the task's variables.
func (t *ExternalTask) Variables() Variables {
	out := make(Variables, len(t.variables))
	for k, v := range t.variables {
		out[k] = v
	}
	return out
}

// Variable returns the decoded value of a variable and whether it was fetched.
// A variable that failed to decode is returned as json.RawMessage.
func (t *ExternalTask) Variable(name string) (interface{}, bool) {
	v, ok := t.variables[name]
	return v, ok
}

// ExtensionProperty returns the value of an extension property, or "".
func (t *ExternalTask) ExtensionProperty(name string) string {
	return t.ExtensionProperties[name]
}

// StringVariable returns a String variable.
func (t *ExternalTask) StringVariable(name string) (string, error) {
	v, err := t.lookup(name)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q is %T, want string", ErrVariableType, name, v)
	}
	return s, nil
}

// BoolVariable returns a Boolean variable.
func (t *ExternalTask) BoolVariable(name string) (bool, error) {
	v, err := t.lookup(name)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q is %T, want bool", ErrVariableType, name, v)
	}
	return b, nil
}

// IntVariable returns an Integer, Short or Long variable widened to int64.
func (t *ExternalTask) IntVariable(name string) (int64, error) {
	v, err := t.lookup(name)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %q is %T, want integer", ErrVariableType, name, v)
	}
}

// FloatVariable returns a Double variable, widening integer types.
func (t *ExternalTask) FloatVariable(name string) (float64, error) {
	v, err := t.lookup(name)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%w: %q is %T, want number", ErrVariableType, name, v)
	}
}

// TimeVariable returns a Date variable.
func (t *ExternalTask) TimeVariable(name string) (time.Time, error) {
	v, err := t.lookup(name)
	if err != nil {
		return time.Time{}, err
	}
	ts, ok := v.(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q is %T, want time", ErrVariableType, name, v)
	}
	return ts, nil
}

// DecodeObjectVariable unmarshals an Object or Json variable into out.
func (t *ExternalTask) DecodeObjectVariable(name string, out interface{}) error {
	v, err := t.lookup(name)
	if err != nil {
		return err
	}
	switch val := v.(type) {
	case ObjectValue:
		return val.Decode(out)
	default:
		if raw, ok := v.(interface{ MarshalJSON() ([]byte, error) }); ok {
			data, err := raw.MarshalJSON()
			if err != nil {
				return err
			}
			return ObjectValue{Serialized: string(data)}.Decode(out)
		}
		return fmt.Errorf("%w: %q is %T, want object", ErrVariableType, name, v)
	}
}

func (t *ExternalTask) lookup(name string) (interface{}, error) {
	if err, ok := t.decodeErrs[name]; ok {
		return nil, err
	}
	v, ok := t.variables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrVariableNotFound, name)
	}
	return v, nil
}
