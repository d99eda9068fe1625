package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"

	"polychat/internal/config"
)

type fakeSSM struct {
	values map[string]string
	err    error
	names  []string
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.names = append(f.names, *in.Name)
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[*in.Name]
	if !ok {
		return nil, &types.ParameterNotFound{}
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: in.Name, Value: &v}}, nil
}

func TestEnvLookup(t *testing.T) {
	env := map[string]string{"GEMINI_API_KEY": "AIza-2", "OPENAI_API_KEY": " sk-1 "}
	src := Env{Getenv: func(k string) string { return env[k] }}

	key, err := src.Lookup(context.Background(), "openai")
	require.NoError(t, err)
	require.Equal(t, "sk-1", key)

	key, err = src.Lookup(context.Background(), "gemini")
	require.NoError(t, err)
	require.Equal(t, "AIza-2", key)

	env["GOOGLE_API_KEY"] = "AIza-1"
	key, _ = src.Lookup(context.Background(), "gemini")
	require.Equal(t, "AIza-1", key)

	key, err = src.Lookup(context.Background(), "anthropic")
	require.NoError(t, err)
	require.Empty(t, key)
}

func TestSSMLookup(t *testing.T) {
	api := &fakeSSM{values: map[string]string{"/polychat/openai-api-key": "sk-ssm"}}
	src, err := NewSSM(api, "/polychat/")
	require.NoError(t, err)

	key, err := src.Lookup(context.Background(), "openai")
	require.NoError(t, err)
	require.Equal(t, "sk-ssm", key)

	key, err = src.Lookup(context.Background(), "deepseek")
	require.NoError(t, err)
	require.Empty(t, key)
	require.Equal(t, []string{"/polychat/openai-api-key", "/polychat/deepseek-api-key"}, api.names)

	api.err = errors.New("access denied")
	_, err = src.Lookup(context.Background(), "openai")
	require.ErrorContains(t, err, "access denied")
}

func TestNewSSMValidates(t *testing.T) {
	_, err := NewSSM(nil, "/p")
	require.Error(t, err)
	_, err = NewSSM(&fakeSSM{}, " / ")
	require.Error(t, err)
}

func TestApplyKeepsConfiguredKeys(t *testing.T) {
	providers := config.Default().Providers
	providers.Anthropic.APIKey = "from-file"
	src := Env{Getenv: func(k string) string {
		return map[string]string{"ANTHROPIC_API_KEY": "from-env", "OPENROUTER_API_KEY": "sk-or"}[k]
	}}

	require.NoError(t, Apply(context.Background(), src, &providers))

	require.Equal(t, "from-file", providers.Anthropic.APIKey)
	require.Equal(t, "sk-or", providers.OpenRouter.APIKey)
	require.Empty(t, providers.OpenAI.APIKey)
}

func TestApplyPropagatesErrors(t *testing.T) {
	providers := config.Default().Providers
	src, err := NewSSM(&fakeSSM{err: errors.New("boom")}, "/p")
	require.NoError(t, err)

	require.Error(t, Apply(context.Background(), src, &providers))
}
