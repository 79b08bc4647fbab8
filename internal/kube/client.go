// Package kube 维护按集群划分的 K8s 客户端池。
package kube

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
)

// Client 是单个集群的客户端集合。Typed 与 Dynamic 共享同一个带故障转移的 transport。
type Client struct {
	Cluster string
	Kube    kubernetes.Interface
	Dynamic dynamic.Interface
	// Mapper 缓存 CRD 的 group/version 发现结果。
	Mapper meta.RESTMapper
}

// Factory 根据 rest.Config 构造 Client，测试中替换为 fake。
type Factory func(cluster string, cfg *rest.Config) (*Client, error)

// NewClient 是默认 Factory。
func NewClient(cluster string, cfg *rest.Config) (*Client, error) {
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("new clientset for %s: %w", cluster, err)
	}
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("new dynamic client for %s: %w", cluster, err)
	}
	cached := memory.NewMemCacheClient(cs.Discovery())
	return &Client{
		Cluster: cluster,
		Kube:    cs,
		Dynamic: dyn,
		Mapper:  restmapper.NewDeferredDiscoveryRESTMapper(cached),
	}, nil
}

// ResourceFor 把 GVK 解析为 GVR。CRD 可能在缓存之后才安装，未命中时重置缓存再查一次。
func (c *Client) ResourceFor(gvk schema.GroupVersionKind) (schema.GroupVersionResource, error) {
	mapping, err := c.Mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if meta.IsNoMatchError(err) {
		if r, ok := c.Mapper.(meta.ResettableRESTMapper); ok {
			r.Reset()
			mapping, err = c.Mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
		}
	}
	if err != nil {
		return schema.GroupVersionResource{}, fmt.Errorf("resolve %s in cluster %s: %w", gvk.String(), c.Cluster, err)
	}
	return mapping.Resource, nil
}

// Namespaced 返回某个命名空间下 GVK 对应的动态资源接口。
func (c *Client) Namespaced(gvk schema.GroupVersionKind, namespace string) (dynamic.ResourceInterface, error) {
	gvr, err := c.ResourceFor(gvk)
	if err != nil {
		return nil, err
	}
	return c.Dynamic.Resource(gvr).Namespace(namespace), nil
}
