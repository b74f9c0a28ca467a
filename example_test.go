package plugraph_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/junioryono/plugraph"
)

type Notifier interface {
	Notify(msg string) string
}

type EmailNotifier struct{}

func NewEmailNotifier() *EmailNotifier { return &EmailNotifier{} }

func (*EmailNotifier) Notify(msg string) string { return "email: " + msg }

type SMSNotifier struct{}

func (SMSNotifier) Notify(msg string) string { return "sms: " + msg }

type loudNotifier struct{ inner Notifier }

func (l loudNotifier) Notify(msg string) string { return strings.ToUpper(l.inner.Notify(msg)) }

// Example registers a default and a named instance and resolves both.
func Example() {
	r := plugraph.NewRegistry()
	plugraph.For[Notifier](r).
		Use(NewEmailNotifier, plugraph.Named("email")).
		Add(SMSNotifier{}, plugraph.Named("sms"))

	c, err := plugraph.NewContainer(r)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()

	n, err := plugraph.Resolve[Notifier](ctx, c)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(n.Notify("hello"))

	sms, err := plugraph.ResolveNamed[Notifier](ctx, c, "sms")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(sms.Notify("hello"))
	// Output:
	// email: hello
	// sms: hello
}

func ExampleNewModule() {
	notifications := plugraph.NewModule("notifications",
		plugraph.Use[Notifier](NewEmailNotifier),
		plugraph.LifecycleOf[Notifier](plugraph.LifecycleSingleton),
	)

	c, err := plugraph.NewRegistry().Include(notifications).Build()
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	a := plugraph.MustResolve[Notifier](context.Background(), c)
	b := plugraph.MustResolve[Notifier](context.Background(), c)
	fmt.Println(a == b)
	// Output: true
}

func ExampleBeginScope() {
	r := plugraph.NewRegistry()
	plugraph.For[Notifier](r).Use(NewEmailNotifier).ContextScoped()

	c, err := r.Build()
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	ctx, scope := plugraph.BeginScope(context.Background())

	a := plugraph.MustResolve[Notifier](ctx, c)
	b := plugraph.MustResolve[Notifier](ctx, c)
	fmt.Println(a == b)

	_ = scope.Close()

	_, err = plugraph.Resolve[Notifier](ctx, c)
	fmt.Println(errors.Is(err, plugraph.ErrScopeDisposed))
	// Output:
	// true
	// true
}

func ExampleEnrichWith() {
	r := plugraph.NewRegistry()
	plugraph.For[Notifier](r).Use(SMSNotifier{})
	r.Intercept(plugraph.EnrichWith(func(n Notifier, _ *plugraph.BuildSession) (Notifier, error) {
		return loudNotifier{inner: n}, nil
	}))

	c, err := r.Build()
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	fmt.Println(plugraph.MustResolve[Notifier](context.Background(), c).Notify("hello"))
	// Output: SMS: HELLO
}

func ExampleContainer_CreateChildContainer() {
	r := plugraph.NewRegistry()
	plugraph.For[Notifier](r).Use(NewEmailNotifier)

	parent, err := r.Build()
	if err != nil {
		log.Fatal(err)
	}
	defer parent.Close()

	child, err := parent.CreateChildContainer()
	if err != nil {
		log.Fatal(err)
	}
	defer child.Close()

	err = child.Configure(func(r *plugraph.Registry) {
		plugraph.For[Notifier](r).Use(SMSNotifier{})
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	fmt.Println(plugraph.MustResolve[Notifier](ctx, parent).Notify("hi"))
	fmt.Println(plugraph.MustResolve[Notifier](ctx, child).Notify("hi"))
	// Output:
	// email: hi
	// sms: hi
}

func ExampleContainer_Validate() {
	r := plugraph.NewRegistry()
	plugraph.For[Notifier](r).Use(func() (*EmailNotifier, error) {
		return nil, errors.New("smtp host not configured")
	})

	c, err := r.Build()
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	report := c.Validate(context.Background())
	fmt.Println(report.OK(), len(report.Failures()))
	// Output: false 1
}
