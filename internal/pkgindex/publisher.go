package pkgindex

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/bundlehub/internal/archive"
	"github.com/any-hub/bundlehub/internal/hasher"
	"github.com/any-hub/bundlehub/internal/logging"
	"github.com/any-hub/bundlehub/internal/objstore"
	"github.com/any-hub/bundlehub/internal/pkgmeta"
)

// UploadedMember 记录一个已上传成员。
type UploadedMember struct {
	Key         string
	Size        int64
	ContentHash string
}

// UploadReport 是一次 Upload 的结果。
type UploadReport struct {
	Identity pkgmeta.Identity
	Members  []UploadedMember
}

// Publisher 把构建产物逐成员写入桶。
type Publisher struct {
	Gateway          objstore.Gateway
	Prefix           string
	Hasher           hasher.Hasher
	Logger           logrus.FieldLogger
	ProgressInterval time.Duration
}

// Upload 依次处理 bundle 的每个成员：计算哈希、从头重新读取并上传到
// <prefix><member key>，哈希作为 Content-Hash 元数据一并写入。meta.json 总是最后上传，
// 在它出现之前其他客户端看不到这个包。
//
// 上传不是原子的：遇到第一个失败立即返回，已上传的成员保留在桶中。
func (p *Publisher) Upload(ctx context.Context, bundlePath string) (*UploadReport, error) {
	bundle, err := archive.OpenBundle(bundlePath)
	if err != nil {
		return nil, err
	}
	defer bundle.Close()

	ident := bundle.Identity.String()
	report := &UploadReport{Identity: bundle.Identity}
	for _, member := range bundle.Members {
		uploaded, err := p.uploadMember(ctx, ident, member)
		if err != nil {
			return report, err
		}
		report.Members = append(report.Members, uploaded)
	}

	p.Logger.WithFields(logging.PackageFields("upload", ident, "")).
		WithField("members", len(report.Members)).Info("package published")
	return report, nil
}

func (p *Publisher) uploadMember(ctx context.Context, ident string, member archive.Member) (UploadedMember, error) {
	key := objstore.Join(p.Prefix, member.Key)
	fields := logging.PackageFields("upload", ident, key)

	digest, err := p.Hasher.Sum(member.Reader())
	if err != nil {
		return UploadedMember{}, fmt.Errorf("hash member %s: %w", member.Key, err)
	}

	p.Logger.WithFields(fields).WithField("hash", digest).Info("uploading member")
	progress := logging.TransferProgress(p.Logger, fields, p.ProgressInterval)
	info, err := p.Gateway.Put(ctx, key, member.Reader(), member.Size,
		map[string]string{objstore.ContentHashMeta: digest}, progress)
	if err != nil {
		return UploadedMember{}, fmt.Errorf("%w: put %s: %w", ErrStoreUnavailable, key, err)
	}
	if info.ContentHash != "" && !hasher.Equal(info.ContentHash, digest) {
		return UploadedMember{}, &IntegrityError{
			Identity: ident,
			Key:      key,
			Source:   SourceStore,
			Expected: digest,
			Actual:   hasher.Normalize(info.ContentHash),
		}
	}
	return UploadedMember{Key: key, Size: member.Size, ContentHash: digest}, nil
}
