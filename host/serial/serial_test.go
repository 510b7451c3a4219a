package serial

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyACM0")
	require.Equal(t, "/dev/ttyACM0", cfg.Device)
	require.Equal(t, DefaultBaud, cfg.Baud)
	require.Equal(t, 100, cfg.ReadTimeout)
}

func TestOpenRejectsEmptyConfig(t *testing.T) {
	_, err := Open(nil)
	require.Error(t, err)
	_, err = Open(&Config{})
	require.Error(t, err)
}

func TestPipe(t *testing.T) {
	a, b := Pipe()

	go func() {
		a.Write([]byte("HELLO\r\n"))
	}()
	buf := make([]byte, 16)
	n, err := io.ReadAtLeast(b, buf, 7)
	require.NoError(t, err)
	require.Equal(t, "HELLO\r\n", string(buf[:n]))

	require.NoError(t, a.Close())
	_, err = b.Read(buf)
	require.Equal(t, io.EOF, err)
	require.NoError(t, b.Close())
}
