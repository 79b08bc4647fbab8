package kube

import (
	"k8s.io/client-go/tools/clientcmd"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

// ClusterFromKubeconfig 读取 kubeconfig 中某个 context（为空时取 current-context）的集群与凭证。
// 只支持内联的证书数据，引用外部文件的 kubeconfig 需先执行 kubectl config view --flatten。
func ClusterFromKubeconfig(path, contextName string) (*domain.Cluster, error) {
	cfg, err := clientcmd.LoadFromFile(path)
	if err != nil {
		return nil, domain.NewConfigurationError("load kubeconfig %s: %v", path, err)
	}
	if contextName == "" {
		contextName = cfg.CurrentContext
	}
	kctx, ok := cfg.Contexts[contextName]
	if !ok {
		return nil, domain.NewConfigurationError("context %q not found in %s", contextName, path)
	}
	kc, ok := cfg.Clusters[kctx.Cluster]
	if !ok || kc.Server == "" {
		return nil, domain.NewConfigurationError("cluster %q of context %q has no server", kctx.Cluster, contextName)
	}

	cluster := &domain.Cluster{
		Name:       kctx.Cluster,
		APIServers: []domain.APIServer{{Host: kc.Server, OverriddenHostname: kc.TLSServerName}},
		CAData:     string(kc.CertificateAuthorityData),
	}
	if kc.CertificateAuthority != "" && len(kc.CertificateAuthorityData) == 0 {
		return nil, domain.NewConfigurationError("cluster %q references ca file %s, flatten the kubeconfig first", kctx.Cluster, kc.CertificateAuthority)
	}
	if auth, ok := cfg.AuthInfos[kctx.AuthInfo]; ok {
		if auth.ClientCertificate != "" || auth.ClientKey != "" {
			return nil, domain.NewConfigurationError("user %q references cert files, flatten the kubeconfig first", kctx.AuthInfo)
		}
		cluster.CertData = string(auth.ClientCertificateData)
		cluster.KeyData = string(auth.ClientKeyData)
		cluster.Token = auth.Token
	}
	if cluster.Token == "" && (cluster.CertData == "" || cluster.KeyData == "") {
		return nil, domain.NewConfigurationError("context %q carries neither token nor client certificate", contextName)
	}
	return cluster, nil
}
