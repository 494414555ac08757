package log

import "time"

// Field is a single structured key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// F builds a Field from an arbitrary value.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Str builds a string Field.
func Str(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int builds an int Field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 builds an int64 Field.
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Bool builds a bool Field.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration builds a time.Duration Field.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Err builds a Field under the conventional "error" key.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Component builds a Field tagging a log line with its originating
// component, under the same key WithComponent uses.
func Component(name string) Field {
	return Field{Key: ComponentKey, Value: name}
}
