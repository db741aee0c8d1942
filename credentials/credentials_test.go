/*
Copyright 2024 The Planetary Compute authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package credentials_test

import (
	"context"
	"testing"

	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/planetary-compute/pkg/credentials"
)

func newFakeClient(objs ...client.Object) client.Client {
	return fake.NewClientBuilder().
		WithScheme(scheme.Scheme).
		WithObjects(objs...).
		Build()
}

func TestLoad(t *testing.T) {
	t.Run("loads both credential fields", func(t *testing.T) {
		g := NewWithT(t)

		kubeClient := newFakeClient(&corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "pc-credentials", Namespace: "default"},
			Data: map[string][]byte{
				credentials.SubscriptionKeyField: []byte("sub-key"),
				credentials.HubAPITokenField:     []byte("hub-token"),
			},
		})

		creds, err := credentials.Load(context.Background(), kubeClient,
			client.ObjectKey{Name: "pc-credentials", Namespace: "default"})
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(creds.HasHubToken()).To(BeTrue())
	})

	t.Run("hub API token is optional", func(t *testing.T) {
		g := NewWithT(t)

		kubeClient := newFakeClient(&corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "pc-credentials", Namespace: "default"},
			Data: map[string][]byte{
				credentials.SubscriptionKeyField: []byte("sub-key"),
			},
		})

		creds, err := credentials.Load(context.Background(), kubeClient,
			client.ObjectKey{Name: "pc-credentials", Namespace: "default"})
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(creds.HasHubToken()).To(BeFalse())
	})

	t.Run("a missing Secret surfaces as NotFound, unchanged", func(t *testing.T) {
		g := NewWithT(t)

		_, err := credentials.Load(context.Background(), newFakeClient(),
			client.ObjectKey{Name: "no-such-secret", Namespace: "default"})
		g.Expect(err).To(HaveOccurred())
		g.Expect(apierrors.IsNotFound(err)).To(BeTrue())
	})
}

func TestSave(t *testing.T) {
	t.Run("creates the Secret", func(t *testing.T) {
		g := NewWithT(t)

		kubeClient := newFakeClient()
		creds := credentials.New("sub-key", "hub-token")
		name := client.ObjectKey{Name: "pc-credentials", Namespace: "default"}

		g.Expect(creds.Save(context.Background(), kubeClient, name)).To(Succeed())

		loaded, err := credentials.Load(context.Background(), kubeClient, name)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(loaded.HasHubToken()).To(BeTrue())
	})

	t.Run("updates an existing Secret", func(t *testing.T) {
		g := NewWithT(t)

		kubeClient := newFakeClient()
		name := client.ObjectKey{Name: "pc-credentials", Namespace: "default"}

		g.Expect(credentials.New("old-key", "").Save(context.Background(), kubeClient, name)).To(Succeed())
		g.Expect(credentials.New("new-key", "new-token").Save(context.Background(), kubeClient, name)).To(Succeed())

		var secret corev1.Secret
		g.Expect(kubeClient.Get(context.Background(), name, &secret)).To(Succeed())
		g.Expect(secret.Data[credentials.SubscriptionKeyField]).To(Equal([]byte("new-key")))
		g.Expect(secret.Data[credentials.HubAPITokenField]).To(Equal([]byte("new-token")))
	})

	t.Run("omits an absent hub API token", func(t *testing.T) {
		g := NewWithT(t)

		kubeClient := newFakeClient()
		name := client.ObjectKey{Name: "pc-credentials", Namespace: "default"}

		g.Expect(credentials.New("sub-key", "").Save(context.Background(), kubeClient, name)).To(Succeed())

		var secret corev1.Secret
		g.Expect(kubeClient.Get(context.Background(), name, &secret)).To(Succeed())
		g.Expect(secret.Data).NotTo(HaveKey(credentials.HubAPITokenField))
	})
}
