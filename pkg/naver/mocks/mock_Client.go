// Package mocks provides test doubles for the naver client.
package mocks

import (
	"context"

	naver "github.com/sells-group/venue-fusion/pkg/naver"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// LocalSearch provides a mock function with given fields: ctx, query
func (_m *MockClient) LocalSearch(ctx context.Context, query string) (*naver.LocalResponse, error) {
	ret := _m.Called(ctx, query)

	if len(ret) == 0 {
		panic("no return value specified for LocalSearch")
	}

	var r0 *naver.LocalResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*naver.LocalResponse, error)); ok {
		return rf(ctx, query)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) *naver.LocalResponse); ok {
		r0 = rf(ctx, query)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*naver.LocalResponse)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, query)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
