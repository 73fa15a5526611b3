// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/mmap"

	"github.com/devblok/korugfx/utility/kar"
)

var (
	author  = flag.String("author", "", "Author to write into the archive header")
	version = flag.Int64("version", 1, "Version of the archive")

	extract  = flag.String("e", "", "Archive to extract into the current directory")
	compress = flag.String("c", "", "Directory to compress into an archive")
	list     = flag.String("l", "", "Archive to list the contents of")
	dst      = flag.String("f", "out.kar", "Destination of the created archive")
	silent   = flag.Bool("s", false, "Only print errors")
)

func main() {
	flag.Parse()
	if *silent {
		log.SetLevel(log.ErrorLevel)
	}

	var err error
	switch {
	case *compress != "":
		err = compressFiles(*compress, *dst)
	case *extract != "":
		err = extractFiles(*extract, ".")
	case *list != "":
		err = listFiles(*list)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func compressFiles(src, dst string) error {
	builder, err := kar.NewBuilder(kar.Header{
		Author:      *author,
		DateCreated: time.Now().Unix(),
		Version:     *version,
	})
	if err != nil {
		return err
	}
	defer builder.Close()

	err = filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		name, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		log.WithField("file", name).Info("adding")
		return builder.Add(filepath.ToSlash(name), f)
	})
	if err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	n, err := builder.WriteTo(out)
	if err != nil {
		out.Close()
		return err
	}
	log.WithFields(log.Fields{
		"archive": dst,
		"files":   builder.Len(),
		"bytes":   n,
	}).Info("archive written")
	return out.Close()
}

func openArchive(file string) (*kar.Archive, *mmap.ReaderAt, error) {
	r, err := mmap.Open(file)
	if err != nil {
		return nil, nil, err
	}
	ar, err := kar.Open(r)
	if err != nil {
		r.Close()
		return nil, nil, err
	}
	return ar, r, nil
}

func extractFiles(file, dir string) error {
	ar, r, err := openArchive(file)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, name := range ar.Header().Names() {
		data, err := ar.ReadAll(name)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return err
		}
		log.WithField("file", name).Info("extracted")
	}
	return nil
}

func listFiles(file string) error {
	ar, r, err := openArchive(file)
	if err != nil {
		return err
	}
	defer r.Close()

	h := ar.Header()
	fmt.Printf("author: %s, version: %d, created: %s\n",
		h.Author, h.Version, time.Unix(h.DateCreated, 0).Format(time.RFC3339))
	for _, e := range h.Index {
		fmt.Printf("%10d %10d %s\n", e.Size, e.CompressedSize, e.Name)
	}
	return nil
}
