package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// k8sNameRegex 匹配合法的 K8s 资源名称：小写字母开头，只含小写字母、数字和连字符，长度 2-63。
var k8sNameRegex = regexp.MustCompile(`^[a-z][a-z0-9-]{0,61}[a-z0-9]$`)

// ValidateK8sName 校验名称是否可安全用作 K8s 资源名。
func ValidateK8sName(name string) error {
	if !k8sNameRegex.MatchString(name) {
		return fmt.Errorf("%w: name %q is not a valid k8s resource name", ErrInvalidInput, name)
	}
	return nil
}

// pathPrefixRegex 路径前缀必须以 / 开头和结尾，中间段不能为空。
var pathPrefixRegex = regexp.MustCompile(`^/([^/]+/)*$`)

// NormalizePathPrefix 校验 Ingress 路径前缀，空值归一化为 /。
func NormalizePathPrefix(prefix string) (string, error) {
	if prefix == "" {
		return "/", nil
	}
	if !pathPrefixRegex.MatchString(prefix) {
		return "", fmt.Errorf("%w: path prefix %q must match %s", ErrInvalidInput, prefix, pathPrefixRegex.String())
	}
	return prefix, nil
}

// hostRegex 是宽松的 DNS 主机名校验。
var hostRegex = regexp.MustCompile(`^([a-z0-9]([-a-z0-9]*[a-z0-9])?\.)+[a-z]{2,}$`)

// ValidateHost 校验自定义域名。
func ValidateHost(host string) error {
	if !hostRegex.MatchString(strings.ToLower(host)) {
		return fmt.Errorf("%w: host %q is not a valid domain", ErrInvalidInput, host)
	}
	return nil
}

// ValidateProcfile 进程类型必须可作为 K8s 名称片段，命令不能为空。
func ValidateProcfile(procfile map[string]string) error {
	if len(procfile) == 0 {
		return ErrEmptyProcfile
	}
	for procType, cmd := range procfile {
		if err := ValidateProcessType(procType); err != nil {
			return err
		}
		if strings.TrimSpace(cmd) == "" {
			return fmt.Errorf("%w: command of process %q is empty", ErrInvalidInput, procType)
		}
	}
	return nil
}

// ValidateProcessType 校验进程类型，与 Procfile 中允许的名称一致。
func ValidateProcessType(procType string) error {
	if !procTypeRegex.MatchString(procType) {
		return fmt.Errorf("%w: process type %q is invalid", ErrInvalidInput, procType)
	}
	return nil
}

var procTypeRegex = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]{0,10}[a-z0-9])?$`)
