package build

import (
	"archive/tar"
	"bytes"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"
)

// Epoch timestamp on every tar entry: identical inputs must produce
// byte-identical layers.
var layerTime = time.Unix(0, 0).UTC()

// layerBuilder assembles an uncompressed, deterministic tar layer. Entries
// carry root ownership and a fixed timestamp; parent directories are created
// implicitly, once.
type layerBuilder struct {
	buf  bytes.Buffer
	tw   *tar.Writer
	dirs map[string]bool
}

func newLayerBuilder() *layerBuilder {
	b := &layerBuilder{dirs: map[string]bool{".": true, "/": true, "": true}}
	b.tw = tar.NewWriter(&b.buf)
	return b
}

// AddDir writes a directory entry. The name is an absolute image path.
func (b *layerBuilder) AddDir(name string) error {
	name = path.Clean(name)
	if b.dirs[name] {
		return nil
	}
	if err := b.AddDir(path.Dir(name)); err != nil {
		return err
	}
	b.dirs[name] = true

	return b.tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     tarName(name) + "/",
		Mode:     0755,
		ModTime:  layerTime,
	})
}

// AddBytes writes a regular file entry from memory.
func (b *layerBuilder) AddBytes(name string, mode fs.FileMode, data []byte) error {
	if err := b.AddDir(path.Dir(name)); err != nil {
		return err
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     tarName(name),
		Mode:     int64(mode.Perm()),
		Size:     int64(len(data)),
		ModTime:  layerTime,
	}
	if err := b.tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := b.tw.Write(data)
	return err
}

// AddFile writes a regular file entry, streaming content from src.
func (b *layerBuilder) AddFile(name string, mode fs.FileMode, src string) error {
	if err := b.AddDir(path.Dir(name)); err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     tarName(name),
		Mode:     int64(mode.Perm()),
		Size:     info.Size(),
		ModTime:  layerTime,
	}
	if err := b.tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(b.tw, f)
	return err
}

// Bytes finalizes the tar and returns it.
func (b *layerBuilder) Bytes() ([]byte, error) {
	if err := b.tw.Close(); err != nil {
		return nil, err
	}
	return b.buf.Bytes(), nil
}

// tarName converts an absolute image path to the slash-relative form tar
// entries use.
func tarName(name string) string {
	return strings.TrimPrefix(path.Clean(name), "/")
}
