/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package mirror

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"gocloud.dev/blob"
)

// tokenUser is the username Bitbucket expects for access tokens. GitHub
// accepts any username alongside a token.
const tokenUser = "x-token-auth"

// RevisionSummaryMetadata is the object metadata key CodePipeline reports as
// the revision summary of an S3 source.
// https://docs.aws.amazon.com/codepipeline/latest/userguide/action-reference-S3.html
const RevisionSummaryMetadata = "codepipeline-artifact-revision-summary"

// cloneFunc clones into dir, which exists and is empty.
type cloneFunc func(ctx context.Context, dir string, o *git.CloneOptions) error

func plainClone(ctx context.Context, dir string, o *git.CloneOptions) error {
	_, err := git.PlainCloneContext(ctx, dir, true, o)
	return err
}

// snapshot mirrors the source repository and stores it zipped under key,
// tagged with the pushed commit. The archive holds a bare repository, which
// builds expand with git clone.
func (m *Mirror) snapshot(ctx context.Context, key, commit string) error {
	log := clog.FromContext(ctx).With("key", key)

	token, err := m.tokens.Get(ctx, m.cfg.TokenParamName)
	if err != nil {
		return fmt.Errorf("fetching repository token: %w", err)
	}

	dir, err := os.MkdirTemp("", "mirror-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	if err := m.clone(ctx, dir, &git.CloneOptions{
		URL:    m.remoteURL(),
		Auth:   &githttp.BasicAuth{Username: tokenUser, Password: token},
		Mirror: true,
	}); err != nil {
		return fmt.Errorf("cloning %s: %w", m.remoteURL(), err)
	}

	n, err := m.upload(ctx, dir, key, commit)
	if err != nil {
		return err
	}
	log.Infof("Uploaded mirror of %s (%d files)", m.cfg.Repository, n)
	return nil
}

func (m *Mirror) remoteURL() string {
	return fmt.Sprintf("https://%s/%s.git", m.cfg.Domain, m.cfg.Repository)
}

// upload zips dir into the bucket. The object is only committed when every
// file was written.
func (m *Mirror) upload(ctx context.Context, dir, key, commit string) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := m.bucket.NewWriter(ctx, key, &blob.WriterOptions{
		ContentType: "application/zip",
		Metadata:    map[string]string{RevisionSummaryMetadata: commit},
	})
	if err != nil {
		return 0, err
	}
	n, err := writeZip(w, dir)
	if err != nil {
		cancel()
		_ = w.Close()
		return 0, fmt.Errorf("failed to write archive %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("failed to close blob file %s: %w", key, err)
	}
	return n, nil
}

// writeZip archives the tree under root, directories included: git needs
// refs/ to exist even when it is empty.
func writeZip(w io.Writer, root string) (int, error) {
	zw := zip.NewWriter(w)
	files := 0
	if err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
			_, err := zw.CreateHeader(hdr)
			return err
		}
		// Skip non-regular files.
		if !d.Type().IsRegular() {
			return nil
		}
		hdr.Method = zip.Deflate
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(fw, f); err != nil {
			return err
		}
		files++
		return nil
	}); err != nil {
		return 0, err
	}
	return files, zw.Close()
}
