// Package mocks provides test doubles for the publicdata client.
package mocks

import (
	"context"

	publicdata "github.com/sells-group/venue-fusion/pkg/publicdata"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Search provides a mock function with given fields: ctx, query, page
func (_m *MockClient) Search(ctx context.Context, query string, page int) (*publicdata.Page, error) {
	ret := _m.Called(ctx, query, page)

	if len(ret) == 0 {
		panic("no return value specified for Search")
	}

	var r0 *publicdata.Page
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*publicdata.Page)
	}
	return r0, ret.Error(1)
}

// List provides a mock function with given fields: ctx, page, size
func (_m *MockClient) List(ctx context.Context, page int, size int) (*publicdata.Page, error) {
	ret := _m.Called(ctx, page, size)

	if len(ret) == 0 {
		panic("no return value specified for List")
	}

	var r0 *publicdata.Page
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*publicdata.Page)
	}
	return r0, ret.Error(1)
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
