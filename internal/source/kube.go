package source

import (
	"context"
	"fmt"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/apptrail-sh/replica-sentinel/internal/model"
)

// NewClientset builds a Kubernetes clientset, preferring in-cluster
// configuration and falling back to the given kubeconfig path (or the default
// loading rules when the path is empty).
func NewClientset(kubeconfig string) (*kubernetes.Clientset, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		if kubeconfig != "" {
			rules.ExplicitPath = kubeconfig
		}
		cfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, nil).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
		}
	}
	return kubernetes.NewForConfig(cfg)
}

// KubeSource reads replica counts for Deployments, StatefulSets, DaemonSets,
// and CronJobs through the typed Kubernetes API.
type KubeSource struct {
	client kubernetes.Interface
	kinds  []model.WorkloadKind
	now    func() time.Time
}

// NewKubeSource creates a source observing the given workload kinds.
func NewKubeSource(client kubernetes.Interface, kinds []model.WorkloadKind) *KubeSource {
	return &KubeSource{
		client: client,
		kinds:  kinds,
		now:    time.Now,
	}
}

// ListWorkloads observes every workload of the configured kinds in one
// namespace. All kinds share the same observation timestamp so grace-period
// arithmetic stays consistent within the namespace.
func (s *KubeSource) ListWorkloads(ctx context.Context, namespace string) (Result, error) {
	var result Result
	observedAt := s.now().UTC()

	for _, kind := range s.kinds {
		var err error
		switch kind {
		case model.WorkloadKindDeployment:
			err = s.listDeployments(ctx, namespace, observedAt, &result)
		case model.WorkloadKindStatefulSet:
			err = s.listStatefulSets(ctx, namespace, observedAt, &result)
		case model.WorkloadKindDaemonSet:
			err = s.listDaemonSets(ctx, namespace, observedAt, &result)
		case model.WorkloadKindCronJob:
			err = s.listCronJobs(ctx, namespace, observedAt, &result)
		default:
			return Result{}, fmt.Errorf("%w: unknown workload kind %q", ErrMalformed, kind)
		}
		if err != nil {
			return Result{}, err
		}
	}
	return result, nil
}

func (s *KubeSource) listDeployments(ctx context.Context, namespace string, observedAt time.Time, result *Result) error {
	list, err := s.client.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("%w: listing deployments in %s: %v", ErrUnavailable, namespace, err)
	}
	for _, item := range list.Items {
		id := model.WorkloadIdentity{Kind: model.WorkloadKindDeployment, Namespace: item.Namespace, Name: item.Name}
		// Replicas defaults to 1 when unset.
		desired := int32(1)
		if item.Spec.Replicas != nil {
			desired = *item.Spec.Replicas
		}
		result.add(id, desired, item.Status.AvailableReplicas, observedAt)
	}
	return nil
}

func (s *KubeSource) listStatefulSets(ctx context.Context, namespace string, observedAt time.Time, result *Result) error {
	list, err := s.client.AppsV1().StatefulSets(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("%w: listing statefulsets in %s: %v", ErrUnavailable, namespace, err)
	}
	for _, item := range list.Items {
		id := model.WorkloadIdentity{Kind: model.WorkloadKindStatefulSet, Namespace: item.Namespace, Name: item.Name}
		desired := int32(1)
		if item.Spec.Replicas != nil {
			desired = *item.Spec.Replicas
		}
		// Ready stands in for available: a StatefulSet pod that is ready is
		// serving.
		result.add(id, desired, item.Status.ReadyReplicas, observedAt)
	}
	return nil
}

func (s *KubeSource) listDaemonSets(ctx context.Context, namespace string, observedAt time.Time, result *Result) error {
	list, err := s.client.AppsV1().DaemonSets(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("%w: listing daemonsets in %s: %v", ErrUnavailable, namespace, err)
	}
	for _, item := range list.Items {
		id := model.WorkloadIdentity{Kind: model.WorkloadKindDaemonSet, Namespace: item.Namespace, Name: item.Name}
		result.add(id, item.Status.DesiredNumberScheduled, item.Status.NumberReady, observedAt)
	}
	return nil
}

// listCronJobs maps CronJob health onto replica counts: a suspended CronJob
// is desired 0, an enabled one is desired 1 and available 1 only when it has
// succeeded at least once and none of its Jobs currently report failures.
// Job-level only; pod probing is out of scope.
func (s *KubeSource) listCronJobs(ctx context.Context, namespace string, observedAt time.Time, result *Result) error {
	list, err := s.client.BatchV1().CronJobs(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("%w: listing cronjobs in %s: %v", ErrUnavailable, namespace, err)
	}
	if len(list.Items) == 0 {
		return nil
	}

	jobs, err := s.client.BatchV1().Jobs(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("%w: listing jobs in %s: %v", ErrUnavailable, namespace, err)
	}
	failedByOwner := make(map[string]int)
	for _, job := range jobs.Items {
		if job.Status.Failed == 0 {
			continue
		}
		for _, ref := range job.OwnerReferences {
			if ref.Kind == "CronJob" {
				failedByOwner[ref.Name]++
			}
		}
	}

	for _, item := range list.Items {
		id := model.WorkloadIdentity{Kind: model.WorkloadKindCronJob, Namespace: item.Namespace, Name: item.Name}
		suspended := item.Spec.Suspend != nil && *item.Spec.Suspend

		var desired, available int32
		if !suspended {
			desired = 1
			if cronJobHealthy(item, failedByOwner[item.Name]) {
				available = 1
			}
		}
		result.add(id, desired, available, observedAt)
	}
	return nil
}

func cronJobHealthy(cj batchv1.CronJob, failedJobs int) bool {
	return cj.Status.LastSuccessfulTime != nil && failedJobs == 0
}

// add appends a snapshot, diverting workloads with unreadable counts into the
// malformed list so no health decision is made from them.
func (r *Result) add(id model.WorkloadIdentity, desired, available int32, observedAt time.Time) {
	snap := model.ReplicaSnapshot{
		Identity:   id,
		Desired:    desired,
		Available:  available,
		ObservedAt: observedAt,
	}
	if !snap.Valid() {
		r.Malformed = append(r.Malformed, Malformed{
			Identity: id,
			Reason:   fmt.Sprintf("negative replica counts: desired=%d available=%d", desired, available),
		})
		return
	}
	r.Snapshots = append(r.Snapshots, snap)
}
