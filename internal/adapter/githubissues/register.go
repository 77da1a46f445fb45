package githubissues

import "github.com/Strob0t/feedbacksync/internal/port/remoteprovider"

func init() {
	remoteprovider.Register(providerName, func(cfg map[string]string) (remoteprovider.Provider, error) {
		p, err := newProvider(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}
