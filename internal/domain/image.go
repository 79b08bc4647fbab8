package domain

import (
	"fmt"

	"github.com/google/go-containerregistry/pkg/name"
)

// ImageRef 是规范化后的镜像引用。
type ImageRef struct {
	Registry   string `json:"registry"`
	Repository string `json:"repository"`
	Tag        string `json:"tag,omitempty"`
	Digest     string `json:"digest,omitempty"`
}

// ParseImage 解析镜像引用，省略的 registry 与 tag 按 Docker 默认值补齐。
func ParseImage(s string) (ImageRef, error) {
	ref, err := name.ParseReference(s)
	if err != nil {
		return ImageRef{}, fmt.Errorf("%w: image %q: %v", ErrInvalidInput, s, err)
	}
	out := ImageRef{
		Registry:   ref.Context().RegistryStr(),
		Repository: ref.Context().RepositoryStr(),
	}
	switch r := ref.(type) {
	case name.Tag:
		out.Tag = r.TagStr()
	case name.Digest:
		out.Digest = r.DigestStr()
	}
	return out, nil
}

// Name 返回不含 tag 与 digest 的仓库全名。
func (r ImageRef) Name() string {
	return r.Registry + "/" + r.Repository
}

func (r ImageRef) String() string {
	switch {
	case r.Digest != "":
		return r.Name() + "@" + r.Digest
	case r.Tag != "":
		return r.Name() + ":" + r.Tag
	default:
		return r.Name()
	}
}
