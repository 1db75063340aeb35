// Package archive opens a registry delta package, either a zip file or an extracted directory, and
// reads its manifest and per-table delimited files.
package archive

import (
	"archive/zip"
	"encoding/csv"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	manifestName  = "meta"
	deleteSuffix  = "_delete"
	insertSuffix  = "_insert"
	byteOrderMark = "\ufeff"
)

// File is one per-table delta file in the package.
type File struct {
	Path      string
	Table     string
	Operation models.Operation
	// Plain marks a "<table>.csv" file without an operation suffix, as shipped in full extracts.
	Plain bool
}

// Package is an opened delta package.
type Package struct {
	fsys     fs.FS
	closer   io.Closer
	manifest string
	files    []File
}

// Open opens a zip archive or a directory holding an extracted package.
func Open(name string) (*Package, error) {
	info, err := os.Stat(name)
	if err != nil {
		return nil, errors.Wrap(err, "opening package")
	}
	if info.IsDir() {
		return New(os.DirFS(name), nil)
	}

	zr, err := zip.OpenReader(name)
	if err != nil {
		return nil, errors.Wrap(err, "opening package archive")
	}
	p, err := New(zr, zr)
	if err != nil {
		zr.Close()
		return nil, err
	}
	return p, nil
}

// New scans fsys for a manifest and delta files. closer, if not nil, is closed by Close.
func New(fsys fs.FS, closer io.Closer) (*Package, error) {
	p := &Package{fsys: fsys, closer: closer}

	err := fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		base := path.Base(name)
		if strings.HasPrefix(base, ".") {
			return nil
		}
		stem := strings.ToLower(strings.TrimSuffix(base, path.Ext(base)))

		switch {
		case stem == manifestName:
			p.manifest = name
		case strings.HasSuffix(stem, deleteSuffix):
			p.files = append(p.files, File{Path: name, Table: strings.TrimSuffix(stem, deleteSuffix), Operation: models.OperationDelete})
		case strings.HasSuffix(stem, insertSuffix):
			p.files = append(p.files, File{Path: name, Table: strings.TrimSuffix(stem, insertSuffix), Operation: models.OperationInsert})
		default:
			p.files = append(p.files, File{Path: name, Table: stem, Operation: models.OperationInsert, Plain: true})
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scanning package")
	}

	if p.manifest == "" {
		return nil, errors.New("package has no manifest")
	}

	sort.Slice(p.files, func(i, j int) bool {
		if p.files[i].Table != p.files[j].Table {
			return p.files[i].Table < p.files[j].Table
		}
		return p.files[i].Operation < p.files[j].Operation
	})
	return p, nil
}

func (p *Package) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// Files returns the delta files ordered by table then operation.
func (p *Package) Files() []File {
	return append([]File(nil), p.files...)
}

// Manifest reads the Variable,Value manifest into a map.
func (p *Package) Manifest() (map[string]string, error) {
	r, err := p.OpenFile(p.manifest)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	values := map[string]string{}
	for {
		row, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) < 2 {
			return nil, errors.Errorf("manifest row %d: expected variable and value", r.Line())
		}
		values[row[0]] = row[1]
	}
	return values, nil
}

// TableReader streams the rows of one delimited file.
type TableReader struct {
	name   string
	file   fs.File
	csv    *csv.Reader
	header []string
	line   int
}

// OpenFile opens a file of the package and reads its header row.
func (p *Package) OpenFile(name string) (*TableReader, error) {
	f, err := p.fsys.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", name)
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		f.Close()
		if err == io.EOF {
			return nil, errors.Errorf("%s is empty", name)
		}
		return nil, errors.Wrapf(err, "reading %s header", name)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], byteOrderMark)
	}

	return &TableReader{name: name, file: f, csv: r, header: header, line: 1}, nil
}

func (r *TableReader) Header() []string {
	return r.header
}

// Line is the 1-based line of the last row returned, counting the header.
func (r *TableReader) Line() int {
	return r.line
}

// Next returns the next non-blank row, or io.EOF.
func (r *TableReader) Next() ([]string, error) {
	for {
		row, err := r.csv.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		r.line++
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", r.name)
		}
		if blank(row) {
			continue
		}
		return row, nil
	}
}

func (r *TableReader) Close() error {
	return r.file.Close()
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
