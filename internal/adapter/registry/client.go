// Package registry 删除镜像仓库中的过期制品。
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"

	"github.com/chiwei-platform/paas-workloads/internal/port"
)

var _ port.ImageRegistry = (*Client)(nil)

// Options 为空用户名时使用本机 docker 凭证链。
type Options struct {
	Username string
	Password string
	Insecure bool
}

type Client struct {
	opts Options
}

func NewClient(opts Options) *Client {
	return &Client{opts: opts}
}

// DeleteImage 先把 tag 解析为 digest 再删除 manifest，镜像已不存在时视为成功。
func (c *Client) DeleteImage(ctx context.Context, image string) error {
	var nameOpts []name.Option
	if c.opts.Insecure {
		nameOpts = append(nameOpts, name.Insecure)
	}
	ref, err := name.ParseReference(image, nameOpts...)
	if err != nil {
		return fmt.Errorf("parse image %q: %w", image, err)
	}
	remoteOpts := []remote.Option{remote.WithContext(ctx), c.authOption()}

	desc, err := remote.Head(ref, remoteOpts...)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("resolve image %q: %w", image, err)
	}
	digest := ref.Context().Digest(desc.Digest.String())
	if err := remote.Delete(digest, remoteOpts...); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete image %q: %w", image, err)
	}
	return nil
}

func (c *Client) authOption() remote.Option {
	if c.opts.Username == "" {
		return remote.WithAuthFromKeychain(authn.DefaultKeychain)
	}
	return remote.WithAuth(&authn.Basic{Username: c.opts.Username, Password: c.opts.Password})
}

func isNotFound(err error) bool {
	var terr *transport.Error
	return errors.As(err, &terr) && terr.StatusCode == http.StatusNotFound
}
