package libvirt

import (
	_ "embed"

	"github.com/terabiome/clusterup/pkg/constants"
	"github.com/terabiome/clusterup/pkg/templator"
)

var (
	//go:embed templates/domain.xml.tpl
	defaultDomainTemplate string
	//go:embed templates/user-data.tpl
	defaultUserDataTemplate string
	//go:embed templates/meta-data.tpl
	defaultMetaDataTemplate string
)

// TemplatePaths points at template files that replace the built-in ones.
// Empty fields keep the built-in template.
type TemplatePaths struct {
	Domain   string
	UserData string
	MetaData string
}

func LoadTemplates(engine *templator.Engine, paths TemplatePaths) error {
	templates := []struct {
		name     string
		path     string
		fallback string
	}{
		{constants.TemplateDomain, paths.Domain, defaultDomainTemplate},
		{constants.TemplateCloudInitUserData, paths.UserData, defaultUserDataTemplate},
		{constants.TemplateCloudInitMetaData, paths.MetaData, defaultMetaDataTemplate},
	}

	for _, t := range templates {
		if err := engine.LoadTemplateOrDefault(t.name, t.path, t.fallback); err != nil {
			return err
		}
	}
	return nil
}
