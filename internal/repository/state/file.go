package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arthur326/ARMS/internal/config"
	"github.com/arthur326/ARMS/internal/domain/alert"
	"github.com/arthur326/ARMS/internal/domain/operator"
)

// Repository defines persistence operations for the controller status.
type Repository interface {
	Load(ctx context.Context) (*alert.Status, error)
	Save(ctx context.Context, status *alert.Status) error
}

// FileRepository persists the status to a JSON file on disk.
// JSON is produced and consumed via protobuf JSON (protojson) over a
// structpb.Struct so that the file stays a plain JSON object.
type FileRepository struct {
	// path is the filesystem location of the JSON state file.
	path string
	// mu protects concurrent access to the state file.
	mu sync.Mutex
}

var (
	// ErrNotFound is returned when the state file does not exist yet.
	ErrNotFound = errors.New("state not found")
	// errBadField is returned when a stored field has an unexpected value.
	errBadField = errors.New("invalid state field")
)

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the status from disk.
func (r *FileRepository) Load(_ context.Context) (*alert.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	var s structpb.Struct
	if err = protojson.Unmarshal(contents, &s); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	return fromStruct(&s)
}

// Save writes the status to disk. The file is replaced atomically.
func (r *FileRepository) Save(_ context.Context, status *alert.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := toStruct(status)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline:       true,
		EmitUnpopulated: true,
	}

	data, err := marshalOptions.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := r.path + ".tmp"
	if err = os.WriteFile(tmp, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	if err = os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	return nil
}

// toStruct converts the domain Status into a protobuf Struct.
func toStruct(status *alert.Status) (*structpb.Struct, error) {
	fields := map[string]any{
		"timestamp": formatTime(status.Timestamp),
		"mode":      string(status.Mode),
		"channel":   status.Channel,
		"episode":   nil,
	}

	if e := status.Episode; e != nil {
		fields["episode"] = map[string]any{
			"id":       e.ID,
			"channel":  e.Channel,
			"behavior": e.Behavior.String(),
			"operator": int(e.Operator),
			"started":  formatTime(e.Started),
		}
	}

	return structpb.NewStruct(fields)
}

// fromStruct converts a protobuf Struct into the domain Status.
func fromStruct(s *structpb.Struct) (*alert.Status, error) {
	fields := s.GetFields()

	timestamp, err := parseTime(fields["timestamp"].GetStringValue())
	if err != nil {
		return nil, err
	}

	status := &alert.Status{
		Timestamp: timestamp,
		Mode:      alert.Mode(fields["mode"].GetStringValue()),
		Channel:   int(fields["channel"].GetNumberValue()),
	}

	episode := fields["episode"].GetStructValue()
	if episode == nil {
		return status, nil
	}

	ef := episode.GetFields()

	behavior, ok := alert.ParseBehavior(ef["behavior"].GetStringValue())
	if !ok {
		return nil, fmt.Errorf("%w: behavior %q", errBadField, ef["behavior"].GetStringValue())
	}

	started, err := parseTime(ef["started"].GetStringValue())
	if err != nil {
		return nil, err
	}

	status.Episode = &alert.Episode{
		ID:       ef["id"].GetStringValue(),
		Channel:  int(ef["channel"].GetNumberValue()),
		Behavior: behavior,
		Operator: operator.ID(ef["operator"].GetNumberValue()),
		Started:  started,
	}

	return status, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q", errBadField, s)
	}

	return t, nil
}
