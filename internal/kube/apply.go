package kube

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"
)

// 以下 Apply* 均为 get-then-create-or-update，冲突时重读重试。

func ApplyNamespace(ctx context.Context, cs kubernetes.Interface, ns *corev1.Namespace) error {
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		existing, err := cs.CoreV1().Namespaces().Get(ctx, ns.Name, metav1.GetOptions{})
		if errors.IsNotFound(err) {
			_, err = cs.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
			if errors.IsAlreadyExists(err) {
				return nil
			}
			return err
		}
		if err != nil {
			return err
		}
		existing.Labels = mergeStringMap(existing.Labels, ns.Labels)
		_, err = cs.CoreV1().Namespaces().Update(ctx, existing, metav1.UpdateOptions{})
		return err
	})
}

func ApplyDeployment(ctx context.Context, cs kubernetes.Interface, d *appsv1.Deployment) (*appsv1.Deployment, error) {
	var out *appsv1.Deployment
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		existing, err := cs.AppsV1().Deployments(d.Namespace).Get(ctx, d.Name, metav1.GetOptions{})
		if errors.IsNotFound(err) {
			out, err = cs.AppsV1().Deployments(d.Namespace).Create(ctx, d, metav1.CreateOptions{})
			return err
		}
		if err != nil {
			return err
		}
		existing.Labels = mergeStringMap(existing.Labels, d.Labels)
		existing.Annotations = mergeStringMap(existing.Annotations, d.Annotations)
		existing.Spec = d.Spec
		out, err = cs.AppsV1().Deployments(d.Namespace).Update(ctx, existing, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("apply deployment %s/%s: %w", d.Namespace, d.Name, err)
	}
	return out, nil
}

func ApplyService(ctx context.Context, cs kubernetes.Interface, svc *corev1.Service) error {
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		existing, err := cs.CoreV1().Services(svc.Namespace).Get(ctx, svc.Name, metav1.GetOptions{})
		if errors.IsNotFound(err) {
			_, err = cs.CoreV1().Services(svc.Namespace).Create(ctx, svc, metav1.CreateOptions{})
			return err
		}
		if err != nil {
			return err
		}
		// ClusterIP 不可变，只覆盖端口、选择器与类型
		existing.Labels = mergeStringMap(existing.Labels, svc.Labels)
		existing.Spec.Ports = svc.Spec.Ports
		existing.Spec.Selector = svc.Spec.Selector
		existing.Spec.Type = svc.Spec.Type
		_, err = cs.CoreV1().Services(svc.Namespace).Update(ctx, existing, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("apply service %s/%s: %w", svc.Namespace, svc.Name, err)
	}
	return nil
}

func ApplySecret(ctx context.Context, cs kubernetes.Interface, s *corev1.Secret) error {
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		existing, err := cs.CoreV1().Secrets(s.Namespace).Get(ctx, s.Name, metav1.GetOptions{})
		if errors.IsNotFound(err) {
			_, err = cs.CoreV1().Secrets(s.Namespace).Create(ctx, s, metav1.CreateOptions{})
			return err
		}
		if err != nil {
			return err
		}
		existing.Labels = mergeStringMap(existing.Labels, s.Labels)
		existing.Data = s.Data
		_, err = cs.CoreV1().Secrets(s.Namespace).Update(ctx, existing, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("apply secret %s/%s: %w", s.Namespace, s.Name, err)
	}
	return nil
}

// ApplyIngress 覆盖注解与规则，注解由平台完全管理。
func ApplyIngress(ctx context.Context, cs kubernetes.Interface, ing *networkingv1.Ingress) error {
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		existing, err := cs.NetworkingV1().Ingresses(ing.Namespace).Get(ctx, ing.Name, metav1.GetOptions{})
		if errors.IsNotFound(err) {
			_, err = cs.NetworkingV1().Ingresses(ing.Namespace).Create(ctx, ing, metav1.CreateOptions{})
			return err
		}
		if err != nil {
			return err
		}
		existing.Labels = ing.Labels
		existing.Annotations = ing.Annotations
		existing.Spec = ing.Spec
		_, err = cs.NetworkingV1().Ingresses(ing.Namespace).Update(ctx, existing, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("apply ingress %s/%s: %w", ing.Namespace, ing.Name, err)
	}
	return nil
}

// ApplyUnstructured 以 spec 为单位更新自定义资源，保留集群侧写入的 status。
func ApplyUnstructured(ctx context.Context, ri dynamic.ResourceInterface, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	var out *unstructured.Unstructured
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		existing, err := ri.Get(ctx, obj.GetName(), metav1.GetOptions{})
		if errors.IsNotFound(err) {
			out, err = ri.Create(ctx, obj, metav1.CreateOptions{})
			return err
		}
		if err != nil {
			return err
		}
		existing.SetLabels(mergeStringMap(existing.GetLabels(), obj.GetLabels()))
		existing.SetAnnotations(mergeStringMap(existing.GetAnnotations(), obj.GetAnnotations()))
		if spec, ok := obj.Object["spec"]; ok {
			existing.Object["spec"] = spec
		}
		out, err = ri.Update(ctx, existing, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("apply %s %s: %w", obj.GetKind(), obj.GetName(), err)
	}
	return out, nil
}

// IgnoreNotFound 把 NotFound 视为成功。
func IgnoreNotFound(err error) error {
	if errors.IsNotFound(err) {
		return nil
	}
	return err
}

func mergeStringMap(base, override map[string]string) map[string]string {
	if len(override) == 0 {
		return base
	}
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
