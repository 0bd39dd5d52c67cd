package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestSession_Load(t *testing.T) {
	tests := []struct {
		name      string
		preloaded map[string]string
		mockSetup func(*MockIStore)
		want      map[string]string
		errMsg    string
	}{
		{
			name: "successful load",
			mockSetup: func(store *MockIStore) {
				store.EXPECT().Load(gomock.Any(), "sid").Return(map[string]string{"userId": "user-1"}, nil)
			},
			want: map[string]string{"userId": "user-1"},
		},
		{
			name: "missing session becomes empty",
			mockSetup: func(store *MockIStore) {
				store.EXPECT().Load(gomock.Any(), "sid").Return(nil, nil)
			},
			want: map[string]string{},
		},
		{
			name: "load error",
			mockSetup: func(store *MockIStore) {
				store.EXPECT().Load(gomock.Any(), "sid").Return(nil, errors.New("load error"))
			},
			errMsg: "load error",
		},
		{
			name:      "already loaded",
			preloaded: map[string]string{"userId": "user-2"},
			mockSetup: func(*MockIStore) {},
			want:      map[string]string{"userId": "user-2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			store := NewMockIStore(ctrl)
			tt.mockSetup(store)

			s := NewSession(nil, "sid", store).(*sessionImpl)
			s.data = tt.preloaded

			err := s.Load()
			if tt.errMsg != "" {
				assert.ErrorContains(t, err, tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.data)
		})
	}
}

func TestSession_SaveOnlyWhenDirty(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockIStore(ctrl)

	s := NewSession(context.Background(), "sid", store)
	assert.Equal(t, "sid", s.ID())

	// 沒有變動不會寫入
	assert.NoError(t, s.Save())

	s.Set("userId", "user-1")
	store.EXPECT().Save(gomock.Any(), "sid", map[string]string{"userId": "user-1"}).Return(nil)
	assert.NoError(t, s.Save())
	assert.NoError(t, s.Save())

	// 刪除不存在的 key 不算變動
	s.Delete("missing")
	assert.NoError(t, s.Save())

	s.Delete("userId")
	store.EXPECT().Save(gomock.Any(), "sid", map[string]string{}).Return(errors.New("save error"))
	assert.ErrorContains(t, s.Save(), "save error")
}

func TestSession_GetSetClear(t *testing.T) {
	s := &sessionImpl{}
	assert.Equal(t, "", s.Get("userId"))

	s.Set("userId", "user-1")
	s.Set("userId", "user-2")
	assert.Equal(t, "user-2", s.Get("userId"))

	s.Clear()
	assert.NotNil(t, s.data)
	assert.Empty(t, s.data)
	assert.True(t, s.dirty)
}

func TestSession_Destroy(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockIStore(ctrl)

	s := NewSession(context.Background(), "sid", store)
	s.Set("userId", "user-1")

	store.EXPECT().Delete(gomock.Any(), "sid").Return(nil)
	require.NoError(t, s.Destroy())
	assert.Equal(t, "", s.Get("userId"))
	// Destroy 之後沒有需要保存的資料
	assert.NoError(t, s.Save())

	store.EXPECT().Delete(gomock.Any(), "sid").Return(errors.New("delete error"))
	assert.ErrorContains(t, s.Destroy(), "delete error")
}
