package egl

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSurface struct{}

func (fakeSurface) Ptr() NativeWindowType { return 0 }
func (fakeSurface) NeedsRecreation() bool { return false }
func (fakeSurface) Recreate() bool        { return true }
func (fakeSurface) SwapBuffers() error    { return nil }

type fakeDisplay struct {
	backend bool
	ptr     NativeDisplayType
	err     error
}

func (d fakeDisplay) IsBackend() bool                        { return d.backend }
func (d fakeDisplay) Ptr() (NativeDisplayType, error)        { return d.ptr, d.err }
func (d fakeDisplay) CreateSurface(int) (fakeSurface, error) { return fakeSurface{}, nil }

func TestOpen(t *testing.T) {
	fns := &Functions{
		QueryString: func(d Display, name int32) string {
			require.Equal(t, NoDisplay, d)
			require.Equal(t, Extensions, name)
			return "EGL_EXT_platform_base EGL_MESA_platform_gbm"
		},
	}

	var gotPtr NativeDisplayType
	var gotExts []bool
	resolve := func(native NativeDisplayType, supports func(string) bool, fns *Functions, log *slog.Logger) Display {
		gotPtr = native
		gotExts = []bool{supports("EGL_MESA_platform_gbm"), supports("EGL_KHR_platform_gbm")}
		return 7
	}

	display, err := Open[int, fakeSurface](fakeDisplay{backend: true, ptr: 0x1000}, resolve, fns, nil)
	require.NoError(t, err)
	assert.Equal(t, Display(7), display)
	assert.Equal(t, NativeDisplayType(0x1000), gotPtr)
	assert.Equal(t, []bool{true, false}, gotExts)
}

func TestOpenFailures(t *testing.T) {
	never := func(NativeDisplayType, func(string) bool, *Functions, *slog.Logger) Display {
		t.Fatal("resolver should not be called")
		return NoDisplay
	}
	none := func(NativeDisplayType, func(string) bool, *Functions, *slog.Logger) Display {
		return NoDisplay
	}
	ptrErr := errors.New("invalidated")

	_, err := Open[int, fakeSurface](fakeDisplay{}, never, &Functions{}, nil)
	assert.ErrorIs(t, err, ErrWrongBackend)

	_, err = Open[int, fakeSurface](fakeDisplay{backend: true, err: ptrErr}, never, &Functions{}, nil)
	assert.ErrorIs(t, err, ptrErr)

	_, err = Open[int, fakeSurface](fakeDisplay{backend: true}, none, &Functions{}, nil)
	assert.ErrorIs(t, err, ErrNoDisplay)
}

func TestClientExtensionsWithoutQueryString(t *testing.T) {
	fns := &Functions{}
	assert.Empty(t, fns.ClientExtensions())
}
