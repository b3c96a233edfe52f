package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	fileutil "downloadcenter/internal/file"
)

// Tool names recognised in the compression map.
const (
	Tool7z     = "7z"
	ToolWinRAR = "winrar"
)

var externalOrder = []string{Tool7z, ToolWinRAR}

var ErrNoVolumes = errors.New("archiver produced no volumes")

// Archiver splits a file into zip volumes. External tools from the
// compression map are tried first; the built-in writer is the fallback.
type Archiver struct {
	tools map[string]string
}

// New returns an archiver using the given tool name -> executable path map.
func New(tools map[string]string) *Archiver {
	copied := make(map[string]string, len(tools))
	for name, path := range tools {
		copied[strings.ToLower(name)] = path
	}
	return &Archiver{tools: copied}
}

// Split archives src into volumes of at most limit bytes under destDir and
// returns the volume paths in order. src is removed on success.
func (a *Archiver) Split(ctx context.Context, src, destDir string, limit int64) ([]string, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid volume limit %d", limit)
	}
	if err := fileutil.EnsureDir(destDir); err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	zipPath := filepath.Join(destDir, base+".zip")

	for _, name := range externalOrder {
		executable, ok := a.tools[name]
		if !ok || executable == "" {
			continue
		}
		if _, err := os.Stat(executable); err != nil {
			continue
		}
		volumes, err := runExternal(ctx, name, executable, zipPath, src, limit)
		if err != nil {
			log.Warn().Err(err).Str("tool", name).Str("file", src).Msg("external archiver failed")
			_ = fileutil.ResetDir(destDir)
			continue
		}
		_ = os.Remove(src)
		return volumes, nil
	}

	volumes, err := SplitZip(ctx, src, zipPath, limit)
	if err != nil {
		return nil, err
	}
	_ = os.Remove(src)
	return volumes, nil
}

// externalArgs builds the command line for the given tool. The volume size
// is given in bytes: both tools read "k" and "m" as binary units.
func externalArgs(tool, zipPath, src string, limit int64) []string {
	volume := fmt.Sprintf("-v%db", volumeBytes(limit))
	if tool == ToolWinRAR {
		return []string{"a", "-afzip", volume, "-ep", "-m0", zipPath, src}
	}
	return []string{"a", "-tzip", volume, "-mx0", zipPath, src}
}

func volumeBytes(limit int64) int64 {
	if limit < 1 {
		return 1
	}
	return limit
}

func runExternal(ctx context.Context, tool, executable, zipPath, src string, limit int64) ([]string, error) {
	cmd := exec.CommandContext(ctx, executable, externalArgs(tool, zipPath, src, limit)...) //nolint:gosec // executable comes from deployment config
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", tool, err, strings.TrimSpace(string(output)))
	}
	volumes, err := fileutil.ListFiles(filepath.Dir(zipPath))
	if err != nil {
		return nil, err
	}
	if len(volumes) == 0 {
		return nil, ErrNoVolumes
	}
	return volumes, nil
}

// SplitZip writes src into a stored (uncompressed) zip stream that is cut into
// numbered volumes <zipPath>.001, .002, ... each at most limit bytes.
// Concatenating the volumes yields a regular zip archive.
func SplitZip(ctx context.Context, src, zipPath string, limit int64) ([]string, error) {
	in, err := os.Open(src) //nolint:gosec // path is constructed by the application
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}

	volumes := &volumeWriter{base: zipPath, limit: limit}
	zipWriter := zip.NewWriter(volumes)

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		volumes.abort()
		return nil, fmt.Errorf("zip header: %w", err)
	}
	header.Method = zip.Store
	entryWriter, err := zipWriter.CreateHeader(header)
	if err != nil {
		volumes.abort()
		return nil, fmt.Errorf("zip entry create: %w", err)
	}
	if _, err := io.Copy(entryWriter, &ctxReader{ctx: ctx, r: in}); err != nil {
		volumes.abort()
		return nil, fmt.Errorf("copy into zip: %w", err)
	}
	if err := zipWriter.Close(); err != nil {
		volumes.abort()
		return nil, fmt.Errorf("close zip writer: %w", err)
	}
	if err := volumes.close(); err != nil {
		volumes.abort()
		return nil, err
	}
	return volumes.paths, nil
}

// volumeWriter rotates to a new file whenever the current one reaches limit.
type volumeWriter struct {
	base    string
	limit   int64
	current *fileutil.AtomicFile
	written int64
	paths   []string
}

func (v *volumeWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if v.current == nil || v.written >= v.limit {
			if err := v.rotate(); err != nil {
				return total, err
			}
		}
		chunk := min(int64(len(p)), v.limit-v.written)
		n, err := v.current.Write(p[:chunk])
		total += n
		v.written += int64(n)
		if err != nil {
			return total, fmt.Errorf("write volume: %w", err)
		}
		p = p[chunk:]
	}
	return total, nil
}

func (v *volumeWriter) rotate() error {
	if err := v.close(); err != nil {
		return err
	}
	name := fmt.Sprintf("%s.%03d", v.base, len(v.paths)+1)
	next, err := fileutil.CreateAtomic(name)
	if err != nil {
		return err
	}
	v.current = next
	v.written = 0
	v.paths = append(v.paths, name)
	return nil
}

func (v *volumeWriter) close() error {
	if v.current == nil {
		return nil
	}
	err := v.current.Commit()
	v.current = nil
	if err != nil {
		return fmt.Errorf("commit volume: %w", err)
	}
	return nil
}

func (v *volumeWriter) abort() {
	if v.current != nil {
		v.current.Abort()
		v.current = nil
	}
	for _, p := range v.paths {
		_ = os.Remove(p)
	}
	v.paths = nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context //nolint:containedctx
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err //nolint:wrapcheck
	}
	return c.r.Read(p) //nolint:wrapcheck
}
