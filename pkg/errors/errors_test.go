package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"testing"

	"github.com/objectfs/sdmcfs/pkg/types"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Message != "configuration is invalid" {
			t.Errorf("Message = %q, want %q", err.Message, "configuration is invalid")
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil {
			t.Error("Details map is nil")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
		if err.Result != 0 || err.Errno != 0 {
			t.Errorf("Result/Errno = %v/%v, want zero", err.Result, err.Errno)
		}
	})

	t.Run("sets correct retryable defaults", func(t *testing.T) {
		if !NewError(ErrCodeConnectionFailed, "refused").Retryable {
			t.Error("ConnectionFailed should be retryable by default")
		}
		if NewError(ErrCodeInvalidConfig, "config invalid").Retryable {
			t.Error("InvalidConfig should not be retryable by default")
		}
	})

	t.Run("sets correct user-facing defaults", func(t *testing.T) {
		if !NewError(ErrCodeFileNotFound, "file not found").UserFacing {
			t.Error("FileNotFound should be user-facing by default")
		}
		if NewError(ErrCodeInternalError, "internal error").UserFacing {
			t.Error("InternalError should not be user-facing by default")
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code     ErrorCode
		expected ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeConnectionFailed, CategoryConnection},
		{ErrCodeProtocolError, CategoryConnection},
		{ErrCodeBucketNotFound, CategoryStorage},
		{ErrCodeStorageResult, CategoryStorage},
		{ErrCodeAccessDenied, CategoryStorage},
		{ErrCodeMountFailed, CategoryFilesystem},
		{ErrCodePathInvalid, CategoryFilesystem},
		{ErrCodeAlreadyStarted, CategoryState},
		{ErrCodeNotInitialized, CategoryState},
		{ErrCodeDeviceInit, CategoryState},
		{ErrCodeOperationTimeout, CategoryOperation},
		{ErrCodeValidationFailed, CategoryOperation},
		{ErrCodeInternalError, CategoryInternal},
		{ErrCodeUnknownError, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if result := GetCategory(tt.code); result != tt.expected {
				t.Errorf("GetCategory(%v) = %v, want %v", tt.code, result, tt.expected)
			}
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *SDMCError
		want string
	}{
		{
			name: "bare",
			err:  NewError(ErrCodeInvalidConfig, "bad level"),
			want: "INVALID_CONFIG: bad level",
		},
		{
			name: "component",
			err:  NewError(ErrCodeMountFailed, "busy").WithComponent("fuse"),
			want: "[fuse] MOUNT_FAILED: busy",
		},
		{
			name: "component and operation with cause",
			err: NewError(ErrCodeConnectionFailed, "dial").
				WithComponent("ipc").WithOperation("OpenFile").WithCause(fmt.Errorf("refused")),
			want: "[ipc:OpenFile] CONNECTION_FAILED: dial: refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorsIs(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeDeviceInit, "open archive").
		WithResult(types.ResultNotFound).
		WithErrno(syscall.ENOENT)
	wrapped := fmt.Errorf("starting: %w", err)

	if !errors.Is(wrapped, NewError(ErrCodeDeviceInit, "other message")) {
		t.Error("errors.Is should match by code")
	}
	if errors.Is(wrapped, NewError(ErrCodeDeviceExit, "")) {
		t.Error("errors.Is should not match a different code")
	}
	if !errors.Is(wrapped, syscall.ENOENT) {
		t.Error("errors.Is should match the recorded errno")
	}
	if errors.Is(wrapped, syscall.EEXIST) {
		t.Error("errors.Is should not match a different errno")
	}
	if !errors.Is(wrapped, types.ResultNotFound) {
		t.Error("errors.Is should match the recorded result")
	}
	if errors.Is(NewError(ErrCodeInternalError, "x"), syscall.Errno(0)) {
		t.Error("an unset errno never matches")
	}
}

func TestWrap(t *testing.T) {
	t.Parallel()

	t.Run("records result from cause", func(t *testing.T) {
		cause := fmt.Errorf("open archive: %w", types.ResultPathNotFound)
		err := Wrap(cause, ErrCodeDeviceInit, "device init failed")
		if err.Result != types.ResultPathNotFound {
			t.Errorf("Result = %v, want %v", err.Result, types.ResultPathNotFound)
		}
		if !errors.Is(err, types.ResultPathNotFound) {
			t.Error("wrapped result should still match")
		}
		if errors.Unwrap(err) != cause {
			t.Error("Unwrap should return the cause")
		}
	})

	t.Run("records errno from cause", func(t *testing.T) {
		err := Wrap(&wrappedErrno{syscall.ENODEV}, ErrCodeNotInitialized, "device")
		if err.Errno != syscall.ENODEV {
			t.Errorf("Errno = %v, want ENODEV", err.Errno)
		}
	})

	t.Run("plain cause", func(t *testing.T) {
		err := Wrap(errors.New("boom"), ErrCodeInternalError, "failed")
		if err.Result != 0 || err.Errno != 0 {
			t.Error("plain causes record neither result nor errno")
		}
	})
}

type wrappedErrno struct{ errno syscall.Errno }

func (w *wrappedErrno) Error() string { return "wrapped: " + w.errno.Error() }
func (w *wrappedErrno) Unwrap() error { return w.errno }

func TestCodeOf(t *testing.T) {
	t.Parallel()

	if got := CodeOf(fmt.Errorf("ctx: %w", NewError(ErrCodeMountFailed, "x"))); got != ErrCodeMountFailed {
		t.Errorf("CodeOf = %v, want %v", got, ErrCodeMountFailed)
	}
	if got := CodeOf(errors.New("plain")); got != ErrCodeUnknownError {
		t.Errorf("CodeOf = %v, want %v", got, ErrCodeUnknownError)
	}
}

func TestStringAndJSON(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeStorageResult, "remote failure").
		WithComponent("sdmc").
		WithOperation("Rename").
		WithPath("sdmc:/a").
		WithResult(types.ResultDiskFull).
		WithDetail("attempt", 1)

	s := err.String()
	for _, want := range []string{"Code=STORAGE_RESULT", "Component=sdmc", "Operation=Rename", `Path="sdmc:/a"`, "Result=0x086044D2", `Details={"attempt":1}`} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}

	var decoded map[string]any
	if jerr := json.Unmarshal([]byte(err.JSON()), &decoded); jerr != nil {
		t.Fatalf("JSON() is not valid JSON: %v", jerr)
	}
	if decoded["code"] != "STORAGE_RESULT" {
		t.Errorf("code = %v", decoded["code"])
	}
	if decoded["result"] != float64(types.ResultDiskFull) {
		t.Errorf("result = %v", decoded["result"])
	}
}

func TestDiagnostics(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeConnectionFailed, "dial failed").
		WithErrno(syscall.ECONNREFUSED).
		WithCause(errors.New("connection refused"))

	if got := err.UserFacingMessage(); got != "Cannot reach the storage service" {
		t.Errorf("UserFacingMessage() = %q", got)
	}
	if !strings.Contains(err.GetRecommendation(), "socket_path") {
		t.Errorf("GetRecommendation() = %q", err.GetRecommendation())
	}

	diag := err.DetailedDiagnostic()
	for _, want := range []string{"Code: CONNECTION_FAILED", "Errno:", "Underlying cause: connection refused"} {
		if !strings.Contains(diag, want) {
			t.Errorf("DetailedDiagnostic() missing %q:\n%s", want, diag)
		}
	}

	internal := NewError(ErrCodeInternalError, "secret detail")
	if strings.Contains(internal.UserFacingMessage(), "secret") {
		t.Error("internal errors should not leak their message")
	}
}

func TestWithStack(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeInternalError, "x").WithStack()
	if !strings.Contains(err.Stack, "TestWithStack") {
		t.Errorf("Stack = %q, want caller frame", err.Stack)
	}
}
